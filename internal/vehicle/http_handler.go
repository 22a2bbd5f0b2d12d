package vehicle

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

// HTTPHandler is the fleet registry surface: groups register their vehicles
// here, the scheduling side reads them.
type HTTPHandler struct {
	repo *Repo
	log  logger.Logger
}

func NewHTTPHandler(repo *Repo, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{repo: repo, log: log}
}

// Register mounts the registry routes on the shared mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/vehicles", h.handleVehicles)
}

type listResponse struct {
	Vehicles []Vehicle `json:"vehicles"`
	Total    int64     `json:"total"`
}

func (h *HTTPHandler) handleVehicles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		vehicles, total, err := h.repo.List(r.Context(), q.Get("group_id"), offset, limit)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to list vehicles")
			h.log.Errorf("vehicle list failed: %v", err)
			return
		}
		h.writeJSON(w, http.StatusOK, listResponse{Vehicles: vehicles, Total: total})

	case http.MethodPost:
		var v Vehicle
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if v.GroupID == "" || v.PlateNumber == "" {
			h.writeError(w, http.StatusBadRequest, "group_id and plate_number are required")
			return
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if v.Status == "" {
			v.Status = StatusAvailable
		}
		if err := h.repo.Upsert(r.Context(), &v); err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to save vehicle")
			h.log.Errorf("vehicle upsert failed: %v", err)
			return
		}
		h.writeJSON(w, http.StatusCreated, &v)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"message": msg})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnf("failed to encode response: %v", err)
	}
}
