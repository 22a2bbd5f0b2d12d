package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

// HTTPHandler exposes the engine over JSON/HTTP for the gateway. The gateway
// terminates auth and forwards the caller identity in X-User-ID and
// X-User-Roles headers.
type HTTPHandler struct {
	svc    *Service
	checks *CheckHandler
	avail  *AvailabilityIndex
	log    logger.Logger
}

func NewHTTPHandler(svc *Service, checks *CheckHandler, avail *AvailabilityIndex, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, checks: checks, avail: avail, log: log}
}

// Routes builds the HTTP mux.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/bookings", h.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", h.handleBookingByID)
	mux.HandleFunc("/api/v1/conflicts/", h.handleConflictByID)
	mux.HandleFunc("/api/v1/availability", h.handleAvailability)
	mux.HandleFunc("/api/v1/vehicles/", h.handleVehicleCalendar)
	mux.HandleFunc("/api/v1/groups/", h.handleGroupCalendar)
	return mux
}

func actorFromRequest(r *http.Request) Actor {
	a := Actor{UserID: r.Header.Get("X-User-ID")}
	if roles := r.Header.Get("X-User-Roles"); roles != "" {
		a.Roles = strings.Split(roles, ",")
	}
	return a
}

type createBookingRequest struct {
	VehicleID         string    `json:"vehicle_id"`
	GroupID           string    `json:"group_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Purpose           string    `json:"purpose"`
	PurposeType       string    `json:"purpose_type"`
	Destination       string    `json:"destination"`
	EstimatedDistance float64   `json:"estimated_distance"`
}

type updateBookingRequest struct {
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	Purpose           *string    `json:"purpose"`
	Destination       *string    `json:"destination"`
	EstimatedDistance *float64   `json:"estimated_distance"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type extendRequest struct {
	NewEndTime time.Time `json:"new_end_time"`
}

type resolveConflictRequest struct {
	CancelBooking bool   `json:"cancel_booking"`
	Note          string `json:"note"`
}

type checkRequest struct {
	Odometer   float64  `json:"odometer"`
	BatteryPct int      `json:"battery_pct"`
	Notes      string   `json:"notes"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Signature  string   `json:"signature"`
}

func (r checkRequest) input() CheckInput {
	return CheckInput{
		Odometer:   r.Odometer,
		BatteryPct: r.BatteryPct,
		Notes:      r.Notes,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Signature:  r.Signature,
	}
}

func (h *HTTPHandler) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
		return
	}
	b, err := h.svc.Create(r.Context(), actorFromRequest(r), CreateBookingInput{
		VehicleID:         req.VehicleID,
		GroupID:           req.GroupID,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Purpose:           req.Purpose,
		PurposeType:       PurposeType(req.PurposeType),
		Destination:       req.Destination,
		EstimatedDistance: req.EstimatedDistance,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, b)
}

// handleBookingByID dispatches /api/v1/bookings/{id} and
// /api/v1/bookings/{id}/{action}.
func (h *HTTPHandler) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/v1/bookings/")
	if len(parts) == 0 || parts[0] == "" {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "booking id required", nil)
		return
	}
	id := parts[0]
	actor := actorFromRequest(r)

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			b, err := h.svc.Get(r.Context(), id)
			if err != nil {
				h.writeDomainError(w, err)
				return
			}
			h.writeJSON(w, http.StatusOK, b)
		case http.MethodPatch:
			var req updateBookingRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
				return
			}
			b, err := h.svc.Update(r.Context(), actor, id, UpdateBookingInput{
				StartTime:         req.StartTime,
				EndTime:           req.EndTime,
				Purpose:           req.Purpose,
				Destination:       req.Destination,
				EstimatedDistance: req.EstimatedDistance,
			})
			if err != nil {
				h.writeDomainError(w, err)
				return
			}
			h.writeJSON(w, http.StatusOK, b)
		default:
			h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		}
		return
	}

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}

	switch parts[1] {
	case "cancel":
		var req cancelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b, err := h.svc.Cancel(r.Context(), actor, id, req.Reason)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, b)
	case "extend":
		var req extendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
			return
		}
		b, err := h.svc.Extend(r.Context(), actor, id, req.NewEndTime)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, b)
	case "confirm":
		b, err := h.svc.Confirm(r.Context(), actor, id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, b)
	case "check-in":
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
			return
		}
		b, err := h.checks.CheckIn(r.Context(), actor, id, req.input())
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, b)
	case "check-out":
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
			return
		}
		b, err := h.checks.CheckOut(r.Context(), actor, id, req.input())
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, b)
	default:
		h.writeError(w, http.StatusNotFound, CodeNotFound, "unknown action", nil)
	}
}

func (h *HTTPHandler) handleConflictByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/v1/conflicts/")
	if len(parts) != 2 || parts[1] != "resolve" || r.Method != http.MethodPost {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "unknown action", nil)
		return
	}
	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
		return
	}
	c, err := h.svc.ResolveConflict(r.Context(), actorFromRequest(r), parts[0], req.CancelBooking, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *HTTPHandler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	q := r.URL.Query()
	start, err1 := time.Parse(time.RFC3339, q.Get("start"))
	end, err2 := time.Parse(time.RFC3339, q.Get("end"))
	vehicleID := q.Get("vehicle_id")
	if vehicleID == "" || err1 != nil || err2 != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidation,
			"vehicle_id, start and end (RFC3339) are required", nil)
		return
	}
	res, err := h.avail.CheckAvailability(r.Context(), vehicleID, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) handleVehicleCalendar(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/v1/vehicles/")
	if len(parts) != 2 || parts[1] != "calendar" || r.Method != http.MethodGet {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "unknown action", nil)
		return
	}
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	cal, err := h.avail.VehicleCalendar(r.Context(), parts[0], from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cal)
}

func (h *HTTPHandler) handleGroupCalendar(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/v1/groups/")
	if len(parts) != 2 || parts[1] != "calendar" || r.Method != http.MethodGet {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "unknown action", nil)
		return
	}
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	cal, err := h.avail.GroupCalendar(r.Context(), parts[0], from, to)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cal)
}

func (h *HTTPHandler) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err1 := time.Parse(time.RFC3339, q.Get("from"))
	to, err2 := time.Parse(time.RFC3339, q.Get("to"))
	if err1 != nil || err2 != nil || !to.After(from) {
		h.writeError(w, http.StatusBadRequest, CodeValidation, "from and to (RFC3339) are required", nil)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

type errorResponse struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// writeDomainError maps the error taxonomy to HTTP statuses.
func (h *HTTPHandler) writeDomainError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case CodeValidation:
		status = http.StatusBadRequest
	case CodeConflict, CodeState:
		status = http.StatusConflict
	case CodeNotFound:
		status = http.StatusNotFound
	case CodePermission:
		status = http.StatusForbidden
	case CodeDependency:
		status = http.StatusBadGateway
	}
	var violations []string
	var ve *ValidationError
	if errors.As(err, &ve) {
		violations = ve.Violations
	}
	if status >= 500 {
		h.log.Errorf("request failed: %v", err)
	}
	h.writeError(w, status, code, err.Error(), violations)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, code, msg string, violations []string) {
	h.writeJSON(w, status, errorResponse{Code: code, Message: msg, Violations: violations})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnf("failed to encode response: %v", err)
	}
}

func splitPath(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
