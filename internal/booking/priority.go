package booking

import (
	"context"
	"math"
	"time"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
)

// NeutralScore is returned when a scoring input cannot be computed. The
// scheduler's availability takes priority over scoring precision.
const NeutralScore = 50

// Fixed sub-score weights.
const (
	weightOwnership = 0.40
	weightUsage     = 0.30
	weightLeadTime  = 0.20
	weightPurpose   = 0.10
)

var purposeWeights = map[PurposeType]float64{
	PurposeBusiness:  1.0,
	PurposeEmergency: 1.2,
	PurposeFamily:    0.8,
	PurposePersonal:  0.6,
	PurposeOther:     0.5,
}

// Scorer computes the 0-100 priority score from ownership share, recent
// usage, booking lead time, and stated purpose.
type Scorer struct {
	store      Store
	membership MembershipService
	clock      Clock
	log        logger.Logger
}

func NewScorer(store Store, membership MembershipService, clock Clock, log logger.Logger) *Scorer {
	return &Scorer{store: store, membership: membership, clock: clock, log: log}
}

// Score computes the composite priority score for a candidate booking.
// Any upstream failure yields NeutralScore instead of an error.
func (s *Scorer) Score(ctx context.Context, userID, groupID string, startTime time.Time, purpose PurposeType) int {
	now := s.clock.Now()

	ownership, err := s.membership.Ownership(ctx, groupID, userID)
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"user_id":  userID,
			"group_id": groupID,
			"error":    err.Error(),
		}).Warn("ownership lookup failed, using neutral priority score")
		return NeutralScore
	}

	usedHours, err := s.store.SumUsageHours(ctx, userID, groupID, now.AddDate(0, 0, -30))
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("usage lookup failed, using neutral priority score")
		return NeutralScore
	}

	composite := ownershipScore(ownership.Percent)*weightOwnership +
		usageScore(usedHours)*weightUsage +
		leadTimeScore(startTime.Sub(now))*weightLeadTime +
		purposeScore(purpose)*weightPurpose

	return clampScore(int(math.Round(composite)))
}

// ownershipScore is linear in the ownership percentage.
func ownershipScore(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// usageScore rewards users who drove little in the trailing 30 days.
func usageScore(hours float64) float64 {
	score := 100 - 2*hours
	if score < 0 {
		return 0
	}
	return score
}

// leadTimeScore rewards booking ahead of time.
func leadTimeScore(lead time.Duration) float64 {
	switch {
	case lead <= 2*time.Hour:
		return 20
	case lead <= 24*time.Hour:
		return 50
	case lead <= 7*24*time.Hour:
		return 80
	default:
		return 100
	}
}

func purposeScore(p PurposeType) float64 {
	w, ok := purposeWeights[p]
	if !ok {
		w = purposeWeights[PurposeOther]
	}
	return w * 100
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
