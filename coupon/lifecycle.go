/*
lifecycle.go - Coupon transitions

PURPOSE:
  Implements issue, use, and revoke. Use validates the shop's shared secret
  before touching state; a mismatch fails with ErrInvalidSecret and changes
  nothing. The transitions themselves are atomic compare-and-set operations
  in the store, so two clerks racing to use the same coupon resolve to
  exactly one Used transition and one InvalidState failure.
*/
package coupon

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"

	"github.com/marlin/loyalty-engine/ledger"
	"github.com/marlin/loyalty-engine/notify"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// SecretSource supplies the admin-managed shared secret checked on use.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// StaticSecret is a fixed secret, typically loaded from configuration.
type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) { return string(s), nil }

// =============================================================================
// LIFECYCLE
// =============================================================================

// Lifecycle drives coupon state transitions.
type Lifecycle struct {
	Store    Store
	Secrets  SecretSource
	Notifier notify.Dispatcher
	Clock    ledger.Clock
}

func NewLifecycle(store Store, secrets SecretSource, notifier notify.Dispatcher) *Lifecycle {
	if notifier == nil {
		notifier = notify.Drop{}
	}
	return &Lifecycle{Store: store, Secrets: secrets, Notifier: notifier, Clock: ledger.SystemClock{}}
}

// Issue creates a coupon in the Issued state. Administrative action; the API
// layer gates it on the admin flag.
func (l *Lifecycle) Issue(ctx context.Context, accountID ledger.AccountID, reason string, isHalf bool) (Coupon, error) {
	c := Coupon{
		ID:        ID(uuid.NewString()),
		AccountID: accountID,
		Reason:    reason,
		IssuedAt:  l.Clock.Now(),
		IsHalf:    isHalf,
		State:     StateIssued,
	}
	if err := l.Store.Put(ctx, c); err != nil {
		return Coupon{}, err
	}

	l.Notifier.Dispatch(notify.Event{
		AccountID: string(accountID),
		Kind:      "coupon_issued",
		Payload:   map[string]string{"coupon_id": string(c.ID), "reason": reason},
	})
	return c, nil
}

// Use transitions Issued -> Used after validating the shared secret.
// Irreversible; repeated calls after success fail with ErrInvalidState.
func (l *Lifecycle) Use(ctx context.Context, id ID, suppliedSecret string) error {
	c, err := l.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.State != StateIssued {
		return ErrInvalidState
	}

	secret, err := l.Secrets.Secret(ctx)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(suppliedSecret)) != 1 {
		return ErrInvalidSecret
	}

	usedAt := l.Clock.Now()
	if err := l.Store.Transition(ctx, id, StateIssued, StateUsed, &usedAt); err != nil {
		return err
	}

	l.Notifier.Dispatch(notify.Event{
		AccountID: string(c.AccountID),
		Kind:      "coupon_used",
		Payload:   map[string]string{"coupon_id": string(id), "used_at": usedAt.Format(time.RFC3339)},
	})
	return nil
}

// Revoke transitions Issued -> Revoked. Administrator-only, irreversible;
// a revoked coupon can never become Used.
func (l *Lifecycle) Revoke(ctx context.Context, id ID) error {
	c, err := l.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.State != StateIssued {
		return ErrInvalidState
	}

	if err := l.Store.Transition(ctx, id, StateIssued, StateRevoked, nil); err != nil {
		return err
	}

	l.Notifier.Dispatch(notify.Event{
		AccountID: string(c.AccountID),
		Kind:      "coupon_revoked",
		Payload:   map[string]string{"coupon_id": string(id)},
	})
	return nil
}
