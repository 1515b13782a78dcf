package links

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lafoncedalle/reviewlink/internal/mailer"
	"github.com/lafoncedalle/reviewlink/internal/models"
	"github.com/lafoncedalle/reviewlink/internal/rewards"
)

// EventSink receives lifecycle events for broadcast to dashboard clients.
type EventSink interface {
	Broadcast(msgType string, payload interface{}) error
}

// Controller is the identity-linking state machine. Per identity the states
// are Unlinked (no record or tombstone), PendingVerification (active,
// unverified) and Linked (active, verified).
//
// The conflict check and the following upsert are not one storage
// transaction, so the controller serializes operations touching the same
// identity or email through keyed locks. Operations on unrelated identities
// run in parallel.
type Controller struct {
	store    *Store
	issuer   *CodeIssuer
	mail     mailer.Mailer
	rewarder rewards.Rewarder
	events   EventSink
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewController creates a link lifecycle controller
func NewController(store *Store, issuer *CodeIssuer, mail mailer.Mailer, rewarder rewards.Rewarder, events EventSink) *Controller {
	return &Controller{
		store:    store,
		issuer:   issuer,
		mail:     mail,
		rewarder: rewarder,
		events:   events,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the controller's clock.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// lockKeys acquires the mutexes for the given keys in sorted order and
// returns the unlock function. Sorting keeps lock acquisition deadlock-free
// when two operations touch the same identity/email pair.
func (c *Controller) lockKeys(keys ...string) func() {
	sort.Strings(keys)
	held := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		c.mu.Lock()
		m, ok := c.locks[key]
		if !ok {
			m = &sync.Mutex{}
			c.locks[key] = m
		}
		c.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// NormalizeEmail case-folds and trims a contact address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StartResult reports a successfully started verification.
type StartResult struct {
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
	ExpiresIn  int       `json:"expires_in"` // seconds
}

// StartVerification issues a code, emails it, and records the identity as
// linked-but-unverified. A delivery failure aborts the operation with no
// pending code left behind. Downstream consumers gate on active, not
// verified, so the identity is visible as linked as soon as this returns.
func (c *Controller) StartVerification(ctx context.Context, identityID, email string, force bool) (*StartResult, error) {
	email = NormalizeEmail(email)
	unlock := c.lockKeys("id:"+identityID, "email:"+email)
	defer unlock()

	if !force {
		if err := c.checkConflicts(identityID, email); err != nil {
			return nil, err
		}
	}

	code, expiresAt, err := c.issuer.Issue()
	if err != nil {
		return nil, err
	}

	// Send before persisting: a failed delivery must leave no code row, so a
	// code that was never delivered can never be confirmed.
	if err := c.mail.SendVerificationCode(ctx, email, code, CodeTTL); err != nil {
		log.Printf("Link %s: verification email to %s failed: %v", identityID, MaskEmail(email), err)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	now := c.now()
	if err := c.store.SavePendingCode(&models.PendingCode{
		IdentityID: identityID,
		Email:      email,
		Code:       code,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if err := c.upsertLink(identityID, email, nil, false, now); err != nil {
		return nil, err
	}

	log.Printf("Link %s: verification code sent to %s", identityID, MaskEmail(email))
	c.publish("link.pending", map[string]string{"identity_id": identityID})

	return &StartResult{
		IdentityID: identityID,
		Email:      email,
		ExpiresAt:  expiresAt,
		ExpiresIn:  int(CodeTTL.Seconds()),
	}, nil
}

// ConfirmResult reports a completed verification plus the reward outcome.
type ConfirmResult struct {
	Link          *models.UserLink `json:"link"`
	RewardGranted bool             `json:"reward_granted"`
	RewardCode    string           `json:"reward_code,omitempty"`
	RewardNote    string           `json:"reward_note,omitempty"`
}

// ConfirmVerification validates a submitted code and promotes the link to
// verified. The reward hook runs after the state change is committed:
// already_claimed and no_codes_available surface as notes, any other reward
// failure is returned as an error alongside the committed result.
func (c *Controller) ConfirmVerification(ctx context.Context, identityID, code, displayName string) (*ConfirmResult, error) {
	unlock := c.lockKeys("id:" + identityID)
	defer unlock()

	pending, err := c.store.GetPendingCode(identityID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrInvalidCode
	}

	if err := Validate(pending, code, c.now()); err != nil {
		if err == ErrInvalidCode {
			attempts, bumpErr := c.store.BumpCodeAttempts(identityID)
			if bumpErr != nil {
				log.Printf("Link %s: failed to record code attempt: %v", identityID, bumpErr)
			} else if attempts >= MaxCodeAttempts {
				// Too many wrong guesses burns the code entirely.
				if delErr := c.store.DeletePendingCode(identityID); delErr != nil {
					log.Printf("Link %s: failed to burn exhausted code: %v", identityID, delErr)
				}
			}
		}
		// An expired code row stays in place: a fresh StartVerification
		// overwrites it.
		return nil, err
	}

	now := c.now()
	var name *string
	if trimmed := strings.TrimSpace(displayName); trimmed != "" {
		name = &trimmed
	}
	if err := c.upsertLink(identityID, pending.Email, name, true, now); err != nil {
		return nil, err
	}

	if err := c.store.DeletePendingCode(identityID); err != nil {
		log.Printf("Link %s: failed to delete consumed code: %v", identityID, err)
	}

	link, err := c.store.GetActiveLink(identityID)
	if err != nil {
		return nil, err
	}

	log.Printf("Link %s: verified for %s", identityID, MaskEmail(pending.Email))
	c.publish("link.verified", map[string]string{"identity_id": identityID})

	result := &ConfirmResult{Link: link}

	// Post-commit side effect: the verification above stands regardless of
	// the reward outcome.
	if c.rewarder != nil {
		grant, rewardErr := c.rewarder.GrantWelcomeReward(ctx, identityID, pending.Email)
		if rewardErr != nil {
			log.Printf("Link %s: welcome reward failed: %v", identityID, rewardErr)
			return result, fmt.Errorf("welcome reward failed: %w", rewardErr)
		}
		result.RewardGranted = grant.Granted
		result.RewardCode = grant.Code
		switch grant.Reason {
		case rewards.ReasonAlreadyClaimed, rewards.ReasonNoCodesAvailable:
			result.RewardNote = grant.Reason
		default:
			// Every other refusal reason is an operation-level error for the
			// caller, with the verification left committed.
			if !grant.Granted {
				reason := grant.Reason
				if reason == "" {
					reason = "unspecified"
				}
				log.Printf("Link %s: welcome reward refused: %s", identityID, reason)
				return result, fmt.Errorf("welcome reward refused: %s", reason)
			}
		}
	}

	return result, nil
}

// ForceLink is the administrative override: it binds identity to email as
// verified without a code, subject to the same conflict checks unless force
// is set. Any pending code for the identity is discarded.
func (c *Controller) ForceLink(ctx context.Context, identityID, email, displayName string, force bool) (*models.UserLink, error) {
	email = NormalizeEmail(email)
	unlock := c.lockKeys("id:"+identityID, "email:"+email)
	defer unlock()

	if !force {
		if err := c.checkConflicts(identityID, email); err != nil {
			return nil, err
		}
	}

	now := c.now()
	var name *string
	if trimmed := strings.TrimSpace(displayName); trimmed != "" {
		name = &trimmed
	}
	if err := c.upsertLink(identityID, email, name, true, now); err != nil {
		return nil, err
	}

	if err := c.store.DeletePendingCode(identityID); err != nil {
		log.Printf("Link %s: failed to discard pending code on force-link: %v", identityID, err)
	}

	log.Printf("Link %s: force-linked to %s", identityID, MaskEmail(email))
	c.publish("link.verified", map[string]string{"identity_id": identityID})

	return c.store.GetActiveLink(identityID)
}

// Unlink tombstones the active record. Email, display name and linked_at
// survive for a future reactivation.
func (c *Controller) Unlink(ctx context.Context, identityID string) error {
	unlock := c.lockKeys("id:" + identityID)
	defer unlock()

	if err := c.store.Deactivate(identityID, c.now()); err != nil {
		return err
	}

	log.Printf("Link %s: unlinked", identityID)
	c.publish("link.removed", map[string]string{"identity_id": identityID})
	return nil
}

// checkConflicts enforces the active-link uniqueness rules under the caller's
// locks: one active link per identity, one active identity per email.
func (c *Controller) checkConflicts(identityID, email string) error {
	existing, err := c.store.GetLink(identityID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Active {
		return &ConflictError{ExistingEmail: existing.Email}
	}

	other, err := c.store.FindActiveByEmail(email)
	if err != nil {
		return err
	}
	if other != nil && other.IdentityID != identityID {
		return &ConflictError{ExistingEmail: other.Email}
	}

	return nil
}

// upsertLink writes the link row, preserving linked_at and, when name is nil,
// the stored display name of any prior record. A verified row always ends up
// with a display name, derived from the identity id when nothing better
// exists.
func (c *Controller) upsertLink(identityID, email string, name *string, verified bool, now time.Time) error {
	linkedAt := now
	displayName := name
	if existing, err := c.store.GetLink(identityID); err != nil {
		return err
	} else if existing != nil {
		linkedAt = existing.LinkedAt
		if displayName == nil {
			displayName = existing.DisplayName
		}
	}
	if verified && (displayName == nil || *displayName == "") {
		placeholder := models.PlaceholderName(identityID)
		displayName = &placeholder
	}

	return c.store.UpsertLink(&models.UserLink{
		IdentityID:  identityID,
		Email:       email,
		DisplayName: displayName,
		Verified:    verified,
		Active:      true,
		LinkedAt:    linkedAt,
		LastUpdated: now,
	})
}

func (c *Controller) publish(event string, payload interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Broadcast(event, payload); err != nil {
		log.Printf("Failed to broadcast %s event: %v", event, err)
	}
}
