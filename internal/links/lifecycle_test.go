package links

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lafoncedalle/reviewlink/internal/models"
	"github.com/lafoncedalle/reviewlink/internal/rewards"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.UserLink{},
		&models.PendingCode{},
		&models.SuppressedIdentity{},
		&models.ReviewReminder{},
	))

	return db
}

type fakeMailer struct {
	sent []string // codes in send order
	fail bool
}

func (m *fakeMailer) SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	if m.fail {
		return fmt.Errorf("smtp unreachable")
	}
	m.sent = append(m.sent, code)
	return nil
}

type fakeRewarder struct {
	grant *rewards.Grant
	err   error
	calls int
}

func (r *fakeRewarder) GrantWelcomeReward(ctx context.Context, identityID, email string) (*rewards.Grant, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.grant != nil {
		return r.grant, nil
	}
	return &rewards.Grant{Granted: true, Code: "WELCOME10"}, nil
}

type testRig struct {
	store    *Store
	ctrl     *Controller
	mail     *fakeMailer
	rewarder *fakeRewarder
	clock    time.Time
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		store:    NewStore(newTestDB(t)),
		mail:     &fakeMailer{},
		rewarder: &fakeRewarder{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return rig.clock }
	rig.ctrl = NewController(rig.store, NewCodeIssuer(now), rig.mail, rig.rewarder, nil)
	rig.ctrl.SetClock(now)
	return rig
}

func (r *testRig) advance(d time.Duration) {
	r.clock = r.clock.Add(d)
}

func (r *testRig) pendingCode(t *testing.T, identityID string) string {
	t.Helper()
	code, err := r.store.GetPendingCode(identityID)
	require.NoError(t, err)
	require.NotNil(t, code)
	return code.Code
}

func countLinks(t *testing.T, store *Store, identityID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, store.DB().Model(&models.UserLink{}).
		Where("identity_id = ?", identityID).Count(&n).Error)
	return n
}

func TestStartVerificationCreatesPendingLink(t *testing.T) {
	rig := newTestRig(t)

	result, err := rig.ctrl.StartVerification(context.Background(), "disc-1", "Someone@X.com", false)
	require.NoError(t, err)
	require.Equal(t, "someone@x.com", result.Email)
	require.Equal(t, 600, result.ExpiresIn)

	// The code was delivered and persisted.
	require.Len(t, rig.mail.sent, 1)
	require.Equal(t, rig.mail.sent[0], rig.pendingCode(t, "disc-1"))

	// Identity is visible as linked-but-unverified immediately.
	link, err := rig.store.GetActiveLink("disc-1")
	require.NoError(t, err)
	require.NotNil(t, link)
	require.True(t, link.Active)
	require.False(t, link.Verified)
	require.Equal(t, "someone@x.com", link.Email)
}

func TestStartVerificationConflictOnActiveLink(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "first@x.com", false)
	require.NoError(t, err)

	// Repeated starts conflict while the link is active, both times.
	for i := 0; i < 2; i++ {
		_, err = rig.ctrl.StartVerification(ctx, "disc-1", "second@x.com", false)
		require.ErrorIs(t, err, ErrConflict)

		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, "first@x.com", conflict.ExistingEmail)
	}

	// Only the original code remains; the conflicting starts issued nothing.
	require.Len(t, rig.mail.sent, 1)
	require.Equal(t, "first@x.com", rig.pendingCodeEmail(t, "disc-1"))
}

func (r *testRig) pendingCodeEmail(t *testing.T, identityID string) string {
	t.Helper()
	code, err := r.store.GetPendingCode(identityID)
	require.NoError(t, err)
	require.NotNil(t, code)
	return code.Email
}

func TestStartVerificationConflictOnForeignEmail(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "shared@x.com", false)
	require.NoError(t, err)

	_, err = rig.ctrl.StartVerification(ctx, "disc-2", "shared@x.com", false)
	require.ErrorIs(t, err, ErrConflict)

	// Force bypasses the check.
	_, err = rig.ctrl.StartVerification(ctx, "disc-2", "shared@x.com", true)
	require.NoError(t, err)
}

func TestDeliveryFailureLeavesNoPendingCode(t *testing.T) {
	rig := newTestRig(t)
	rig.mail.fail = true

	_, err := rig.ctrl.StartVerification(context.Background(), "disc-1", "a@x.com", false)
	require.ErrorIs(t, err, ErrDeliveryFailed)

	code, err := rig.store.GetPendingCode("disc-1")
	require.NoError(t, err)
	require.Nil(t, code)

	link, err := rig.store.GetLink("disc-1")
	require.NoError(t, err)
	require.Nil(t, link)
}

func TestConfirmVerificationHappyPath(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "a@x.com", false)
	require.NoError(t, err)
	code := rig.pendingCode(t, "disc-1")

	result, err := rig.ctrl.ConfirmVerification(ctx, "disc-1", code, "Alice")
	require.NoError(t, err)
	require.True(t, result.Link.Verified)
	require.True(t, result.Link.Active)
	require.Equal(t, "Alice", result.Link.Name())
	require.True(t, result.RewardGranted)
	require.Equal(t, "WELCOME10", result.RewardCode)
	require.Equal(t, 1, rig.rewarder.calls)

	// Code is consumed.
	pending, err := rig.store.GetPendingCode("disc-1")
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestConfirmVerificationCodeExpiry(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "a@x.com", false)
	require.NoError(t, err)
	code := rig.pendingCode(t, "disc-1")

	// Just inside the 600s window.
	rig.advance(599 * time.Second)
	result, err := rig.ctrl.ConfirmVerification(ctx, "disc-1", code, "")
	require.NoError(t, err)
	require.True(t, result.Link.Verified)

	// A fresh code, just past the window, with the same code value still
	// stored: expired, and the row stays for a later overwrite.
	_, err = rig.ctrl.StartVerification(ctx, "disc-2", "b@x.com", false)
	require.NoError(t, err)
	code2 := rig.pendingCode(t, "disc-2")

	rig.advance(601 * time.Second)
	_, err = rig.ctrl.ConfirmVerification(ctx, "disc-2", code2, "")
	require.ErrorIs(t, err, ErrExpired)

	stale, err := rig.store.GetPendingCode("disc-2")
	require.NoError(t, err)
	require.NotNil(t, stale)
}

func TestConfirmVerificationPlaceholderName(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "discord-123456789", "a@x.com", false)
	require.NoError(t, err)

	result, err := rig.ctrl.ConfirmVerification(ctx, "discord-123456789", rig.pendingCode(t, "discord-123456789"), "")
	require.NoError(t, err)
	require.Equal(t, "User#6789", result.Link.Name())
}

func TestConfirmVerificationWrongCode(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "a@x.com", false)
	require.NoError(t, err)
	code := rig.pendingCode(t, "disc-1")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	// Wrong guesses up to the cap leave the row in place.
	for i := 0; i < MaxCodeAttempts-1; i++ {
		_, err = rig.ctrl.ConfirmVerification(ctx, "disc-1", wrong, "")
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	pending, err := rig.store.GetPendingCode("disc-1")
	require.NoError(t, err)
	require.NotNil(t, pending)

	// The final wrong guess burns the code; even the right one fails now.
	_, err = rig.ctrl.ConfirmVerification(ctx, "disc-1", wrong, "")
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = rig.ctrl.ConfirmVerification(ctx, "disc-1", code, "")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestUnlinkAndReactivation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "old@x.com", false)
	require.NoError(t, err)
	_, err = rig.ctrl.ConfirmVerification(ctx, "disc-1", rig.pendingCode(t, "disc-1"), "Alice")
	require.NoError(t, err)

	firstLinkedAt := rig.clock

	rig.advance(48 * time.Hour)
	require.NoError(t, rig.ctrl.Unlink(ctx, "disc-1"))

	// The tombstone survives but is not active.
	link, err := rig.store.GetLink("disc-1")
	require.NoError(t, err)
	require.NotNil(t, link)
	require.False(t, link.Active)
	require.Equal(t, "old@x.com", link.Email)
	require.Equal(t, "Alice", link.Name())

	// Unlinking again is NotFound.
	require.ErrorIs(t, rig.ctrl.Unlink(ctx, "disc-1"), ErrNotFound)

	// Reactivation with a different email succeeds and keeps linked_at.
	rig.advance(time.Hour)
	_, err = rig.ctrl.StartVerification(ctx, "disc-1", "new@x.com", false)
	require.NoError(t, err)

	link, err = rig.store.GetActiveLink("disc-1")
	require.NoError(t, err)
	require.NotNil(t, link)
	require.Equal(t, "new@x.com", link.Email)
	require.True(t, firstLinkedAt.Equal(link.LinkedAt))

	// Still exactly one row for the identity.
	require.EqualValues(t, 1, countLinks(t, rig.store, "disc-1"))
}

func TestForceLink(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Pending code from an earlier start is discarded by a force-link.
	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "a@x.com", false)
	require.NoError(t, err)

	link, err := rig.ctrl.ForceLink(ctx, "disc-1", "a@x.com", "Alice", true)
	require.NoError(t, err)
	require.True(t, link.Verified)
	require.True(t, link.Active)

	pending, err := rig.store.GetPendingCode("disc-1")
	require.NoError(t, err)
	require.Nil(t, pending)

	// Without force, the same conflict rules apply.
	_, err = rig.ctrl.ForceLink(ctx, "disc-2", "a@x.com", "", false)
	require.ErrorIs(t, err, ErrConflict)
}

func TestConfirmVerificationRewardOutcomes(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Informational reasons are notes, not errors.
	rig.rewarder.grant = &rewards.Grant{Granted: false, Reason: rewards.ReasonAlreadyClaimed}
	_, err := rig.ctrl.StartVerification(ctx, "disc-1", "a@x.com", false)
	require.NoError(t, err)
	result, err := rig.ctrl.ConfirmVerification(ctx, "disc-1", rig.pendingCode(t, "disc-1"), "")
	require.NoError(t, err)
	require.False(t, result.RewardGranted)
	require.Equal(t, rewards.ReasonAlreadyClaimed, result.RewardNote)

	// A refusal for any other reason is an operation-level error, with the
	// verification left committed.
	rig.rewarder.grant = &rewards.Grant{Granted: false, Reason: rewards.ReasonOther}
	_, err = rig.ctrl.StartVerification(ctx, "disc-2", "b@x.com", false)
	require.NoError(t, err)
	result, err = rig.ctrl.ConfirmVerification(ctx, "disc-2", rig.pendingCode(t, "disc-2"), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), rewards.ReasonOther)
	require.NotNil(t, result)
	require.True(t, result.Link.Verified)
	require.False(t, result.RewardGranted)
	require.Empty(t, result.RewardNote)

	link, lookupErr := rig.store.GetActiveLink("disc-2")
	require.NoError(t, lookupErr)
	require.True(t, link.Verified)

	// A hard reward failure is an error, but the verification stands.
	rig.rewarder.grant = nil
	rig.rewarder.err = errors.New("reward service down")
	_, err = rig.ctrl.StartVerification(ctx, "disc-3", "c@x.com", false)
	require.NoError(t, err)
	result, err = rig.ctrl.ConfirmVerification(ctx, "disc-3", rig.pendingCode(t, "disc-3"), "")
	require.Error(t, err)
	require.NotNil(t, result)
	require.True(t, result.Link.Verified)
}
