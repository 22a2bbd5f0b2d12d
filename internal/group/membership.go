package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/booking"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/middleware"
)

// Client calls the membership service for ownership shares and group booking
// rules. The service is flaky in practice, so every call is bounded by the
// configured timeout and guarded by a circuit breaker; callers degrade to
// neutral defaults when an error comes back.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *middleware.CircuitBreaker
	log     logger.Logger
}

func NewClient(cfg config.MembershipConfig, log logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: middleware.NewCircuitBreaker("membership", cfg.MaxFailures, cfg.ResetTimeout),
		log:     log,
	}
}

type ownershipResponse struct {
	Percent float64 `json:"percent"`
	Active  bool    `json:"active"`
	Admin   bool    `json:"admin"`
}

type rulesResponse struct {
	MaxDurationMinutes int `json:"max_duration_minutes"`
	AllowedStartHour   int `json:"allowed_start_hour"`
	AllowedEndHour     int `json:"allowed_end_hour"`
}

// Ownership fetches the user's share in the group.
func (c *Client) Ownership(ctx context.Context, groupID, userID string) (*booking.Ownership, error) {
	var resp ownershipResponse
	path := fmt.Sprintf("/api/v1/groups/%s/members/%s/ownership",
		url.PathEscape(groupID), url.PathEscape(userID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &booking.Ownership{
		Percent: resp.Percent,
		Active:  resp.Active,
		Admin:   resp.Admin,
	}, nil
}

// Rules fetches the group's booking restrictions. A 404 means the group has
// no restrictions configured.
func (c *Client) Rules(ctx context.Context, groupID string) (*booking.GroupRules, error) {
	var resp rulesResponse
	path := fmt.Sprintf("/api/v1/groups/%s/booking-rules", url.PathEscape(groupID))
	err := c.getJSON(ctx, path, &resp)
	if err != nil {
		var nf *booking.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return &booking.GroupRules{
		MaxDuration:      time.Duration(resp.MaxDurationMinutes) * time.Minute,
		AllowedStartHour: resp.AllowedStartHour,
		AllowedEndHour:   resp.AllowedEndHour,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	// A 404 is a valid answer, not a service failure; it must not trip the
	// breaker.
	var notFound bool
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case res.StatusCode != http.StatusOK:
			return fmt.Errorf("membership service returned %d for %s", res.StatusCode, path)
		}
		return json.NewDecoder(res.Body).Decode(out)
	}

	if err := c.breaker.Call(ctx, call); err != nil {
		return &booking.DependencyError{Dep: "membership", Err: err}
	}
	if notFound {
		return &booking.NotFoundError{Entity: "membership resource", ID: path}
	}
	return nil
}
