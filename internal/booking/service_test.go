package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	store      *memStore
	membership *memMembership
	pub        *capturePublisher
	svc        *Service
}

func newServiceFixture() *serviceFixture {
	store := newMemStore()
	store.addVehicle(testVehicle("v1"))
	membership := &memMembership{ownership: &Ownership{Percent: 50, Active: true}}
	pub := &capturePublisher{}
	cfg := testCfg()
	clock := testClock()
	log := nopLog()

	validator := NewValidator(store, clock, cfg)
	scorer := NewScorer(store, membership, clock, log)
	avail, _ := newTestIndex(store)
	detector := NewDetector(store, membership, pub, clock, cfg, log)
	svc := NewService(store, validator, scorer, avail, detector, pub, clock, cfg, log)
	return &serviceFixture{store: store, membership: membership, pub: pub, svc: svc}
}

func (f *serviceFixture) createInput() CreateBookingInput {
	start := testNow.AddDate(0, 0, 1).Add(-time.Hour) // tomorrow 09:00
	return CreateBookingInput{
		VehicleID:         "v1",
		GroupID:           "g1",
		StartTime:         start,
		EndTime:           start.Add(4 * time.Hour),
		Purpose:           "grocery run",
		PurposeType:       PurposePersonal,
		EstimatedDistance: 40,
	}
}

func TestCreatePendingBelowThreshold(t *testing.T) {
	f := newServiceFixture()

	// ownership 50, no usage, ~23h lead, personal purpose: scores 66.
	b, err := f.svc.Create(context.Background(), Actor{UserID: "u1"}, f.createInput())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.False(t, b.AutoConfirmed)
	assert.Greater(t, b.PriorityScore, 0)
	assert.Less(t, b.PriorityScore, 80)

	require.Len(t, f.pub.byType(EventBookingCreated), 1)
	assert.Empty(t, f.pub.byType(EventBookingConfirmed))
}

func TestCreateAutoConfirmAtThreshold(t *testing.T) {
	f := newServiceFixture()

	// ownership 50 (20) + usage 100 (30) + lead >7d (20) + business (10) = 80.
	in := f.createInput()
	in.StartTime = testNow.AddDate(0, 0, 10)
	in.EndTime = in.StartTime.Add(4 * time.Hour)
	in.PurposeType = PurposeBusiness

	b, err := f.svc.Create(context.Background(), Actor{UserID: "u1"}, in)
	require.NoError(t, err)
	assert.Equal(t, 80, b.PriorityScore)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.True(t, b.AutoConfirmed)

	require.Len(t, f.pub.byType(EventBookingConfirmed), 1)
}

func TestCreateRejectsInvalidFields(t *testing.T) {
	f := newServiceFixture()

	in := f.createInput()
	in.EndTime = in.StartTime.Add(30 * time.Minute)
	_, err := f.svc.Create(context.Background(), Actor{UserID: "u1"}, in)
	require.Error(t, err)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

func TestCreateRejectsOverQuota(t *testing.T) {
	f := newServiceFixture()

	for i := 0; i < 3; i++ {
		b := testBooking(string(rune('a'+i)), "v1", "u1")
		b.Status = StatusPending
		b.StartTime = testNow.Add(time.Duration(i+4) * time.Hour)
		b.EndTime = b.StartTime.Add(2 * time.Hour)
		f.store.addBooking(b)
	}

	_, err := f.svc.Create(context.Background(), Actor{UserID: "u1"}, f.createInput())
	require.Error(t, err)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

func TestCreateOverlapFlaggedPostCommit(t *testing.T) {
	f := newServiceFixture()
	f.store.addBooking(testBooking("existing", "v1", "u2"))

	// The write commits; the detector then flags it.
	b, err := f.svc.Create(context.Background(), Actor{UserID: "u1"}, f.createInput())
	require.NoError(t, err)

	stored, err := f.store.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, stored.Status)

	conflicts, err := f.store.ListUnresolvedByBooking(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictTimeOverlap, conflicts[0].Type)
	assert.Equal(t, "existing", conflicts[0].OtherBookingID)
}

func TestCreateRequiresIdentity(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.Create(context.Background(), Actor{}, f.createInput())
	require.Error(t, err)
	assert.Equal(t, CodePermission, ErrorCode(err))
}

func TestUpdateOwnerOnly(t *testing.T) {
	f := newServiceFixture()
	f.store.addBooking(testBooking("b1", "v1", "u1"))

	newPurpose := "changed"
	_, err := f.svc.Update(context.Background(), Actor{UserID: "intruder"}, "b1",
		UpdateBookingInput{Purpose: &newPurpose})
	require.Error(t, err)
	assert.Equal(t, CodePermission, ErrorCode(err))

	// Staff may update someone else's booking.
	b, err := f.svc.Update(context.Background(), Actor{UserID: "admin1", Roles: []string{"staff"}}, "b1",
		UpdateBookingInput{Purpose: &newPurpose})
	require.NoError(t, err)
	assert.Equal(t, "changed", b.Purpose)
}

func TestUpdateTimeIntoOverlap(t *testing.T) {
	f := newServiceFixture()
	blocker := testBooking("blocker", "v1", "u2")
	blocker.StartTime = testNow.AddDate(0, 0, 2)
	blocker.EndTime = blocker.StartTime.Add(4 * time.Hour)
	f.store.addBooking(blocker)
	f.store.addBooking(testBooking("b1", "v1", "u1"))

	newStart := blocker.StartTime.Add(time.Hour)
	newEnd := newStart.Add(3 * time.Hour)
	_, err := f.svc.Update(context.Background(), Actor{UserID: "u1"}, "b1",
		UpdateBookingInput{StartTime: &newStart, EndTime: &newEnd})
	require.Error(t, err)
	assert.Equal(t, CodeConflict, ErrorCode(err))

	// Unchanged on failure.
	b, _ := f.store.GetBooking(context.Background(), "b1")
	assert.True(t, b.StartTime.Equal(testBooking("b1", "v1", "u1").StartTime))
}

func TestCancelBulkResolvesConflicts(t *testing.T) {
	f := newServiceFixture()
	f.store.addBooking(testBooking("b1", "v1", "u1"))

	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, f.store.CreateConflict(context.Background(), &Conflict{
			ID:        id,
			BookingID: "other",
			// b1 is the other side of both conflicts
			OtherBookingID: "b1",
			Type:           ConflictTimeOverlap,
			Status:         ConflictUnresolved,
			CreatedAt:      testNow,
		}))
	}

	b, err := f.svc.Cancel(context.Background(), Actor{UserID: "u1"}, "b1", "plans changed")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Equal(t, "plans changed", b.CancelReason)

	for _, id := range []string{"c1", "c2"} {
		c, err := f.store.GetConflict(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, ConflictResolved, c.Status)
		assert.Equal(t, "u1", c.ResolvedBy)
		require.NotNil(t, c.ResolvedAt)
	}

	require.Len(t, f.pub.byType(EventBookingCancelled), 1)
}

func TestCancelRejectsTerminal(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusCompleted
	f.store.addBooking(b)

	_, err := f.svc.Cancel(context.Background(), Actor{UserID: "u1"}, "b1", "")
	require.Error(t, err)
	assert.Equal(t, CodeState, ErrorCode(err))
}

func TestExtendWithinCap(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusInProgress
	f.store.addBooking(b)

	newEnd := b.EndTime.Add(90 * time.Minute)
	got, err := f.svc.Extend(context.Background(), Actor{UserID: "u1"}, "b1", newEnd)
	require.NoError(t, err)
	assert.True(t, got.EndTime.Equal(newEnd))
}

func TestExtendBeyondCap(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusInProgress
	f.store.addBooking(b)

	_, err := f.svc.Extend(context.Background(), Actor{UserID: "u1"}, "b1", b.EndTime.Add(3*time.Hour))
	require.Error(t, err)
	assert.Equal(t, CodeValidation, ErrorCode(err))
}

func TestExtendBlockedByNextBooking(t *testing.T) {
	f := newServiceFixture()
	v := testVehicle("v1")
	f.store.addVehicle(v)

	b := testBooking("b1", "v1", "u1")
	b.Status = StatusInProgress
	f.store.addBooking(b)

	next := testBooking("next", "v1", "u2")
	next.StartTime = b.EndTime
	next.EndTime = next.StartTime.Add(3 * time.Hour)
	f.store.addBooking(next)

	_, err := f.svc.Extend(context.Background(), Actor{UserID: "u1"}, "b1", b.EndTime.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, CodeConflict, ErrorCode(err))
}

func TestExtendOnlyInProgress(t *testing.T) {
	f := newServiceFixture()
	f.store.addBooking(testBooking("b1", "v1", "u1")) // confirmed

	_, err := f.svc.Extend(context.Background(), Actor{UserID: "u1"}, "b1",
		testBooking("b1", "v1", "u1").EndTime.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, CodeState, ErrorCode(err))
}

func TestConfirmRequiresElevation(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusPending
	f.store.addBooking(b)

	_, err := f.svc.Confirm(context.Background(), Actor{UserID: "u1"}, "b1")
	require.Error(t, err)
	assert.Equal(t, CodePermission, ErrorCode(err))

	got, err := f.svc.Confirm(context.Background(), Actor{UserID: "staff1", Roles: []string{"staff"}}, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestResolveConflictManualKeep(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusConflict
	f.store.addBooking(b)
	require.NoError(t, f.store.CreateConflict(context.Background(), &Conflict{
		ID:        "c1",
		BookingID: "b1",
		Type:      ConflictQuotaExceeded,
		Status:    ConflictUnresolved,
		CreatedAt: testNow,
	}))

	staff := Actor{UserID: "staff1", Roles: []string{"staff"}}
	c, err := f.svc.ResolveConflict(context.Background(), staff, "c1", false, "quota reviewed, ok")
	require.NoError(t, err)
	assert.Equal(t, ConflictResolved, c.Status)
	assert.Equal(t, "staff1", c.ResolvedBy)

	got, _ := f.store.GetBooking(context.Background(), "b1")
	assert.Equal(t, StatusConfirmed, got.Status)

	require.Len(t, f.pub.byType(EventConflictResolved), 1)
}

func TestResolveConflictManualCancel(t *testing.T) {
	f := newServiceFixture()
	b := testBooking("b1", "v1", "u1")
	b.Status = StatusConflict
	f.store.addBooking(b)
	require.NoError(t, f.store.CreateConflict(context.Background(), &Conflict{
		ID:        "c1",
		BookingID: "b1",
		Type:      ConflictGroupRestriction,
		Status:    ConflictUnresolved,
		CreatedAt: testNow,
	}))

	staff := Actor{UserID: "staff1", Roles: []string{"admin"}}
	_, err := f.svc.ResolveConflict(context.Background(), staff, "c1", true, "restriction stands")
	require.NoError(t, err)

	got, _ := f.store.GetBooking(context.Background(), "b1")
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "restriction stands", got.CancelReason)
}

func TestResolveConflictMemberForbidden(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.ResolveConflict(context.Background(), Actor{UserID: "u1"}, "c1", false, "")
	require.Error(t, err)
	assert.Equal(t, CodePermission, ErrorCode(err))
}
