/*
Package notify delivers best-effort member notifications.

PURPOSE:
  Coupon transitions (and other member-visible events) push a notification to
  the external dispatcher. Delivery is fire-and-forget: the ledger/coupon
  transaction has already committed, and a delivery failure must never roll
  it back. The dispatcher retries on its own and logs what it couldn't
  deliver.
*/
package notify

import (
	"context"
	"log"
	"time"
)

// Event is one notification to one account.
type Event struct {
	AccountID string
	Kind      string
	Payload   map[string]string
}

// Dispatcher accepts events for delivery. Dispatch never blocks the caller
// on delivery and never returns delivery errors.
type Dispatcher interface {
	Dispatch(e Event)
}

// Sender performs one delivery attempt against the external push service.
type Sender interface {
	Send(ctx context.Context, e Event) error
}

// =============================================================================
// ASYNC DISPATCHER
// =============================================================================

// Async delivers each event in its own goroutine with a bounded retry.
type Async struct {
	Sender   Sender
	Attempts int           // default 3
	Backoff  time.Duration // default 500ms
	Timeout  time.Duration // per-event delivery budget, default 10s
}

func NewAsync(sender Sender) *Async {
	return &Async{Sender: sender, Attempts: 3, Backoff: 500 * time.Millisecond, Timeout: 10 * time.Second}
}

func (a *Async) Dispatch(e Event) {
	go a.deliver(e)
}

func (a *Async) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= a.Attempts; attempt++ {
		if err = a.Sender.Send(ctx, e); err == nil {
			return
		}
		if attempt < a.Attempts {
			select {
			case <-time.After(a.Backoff):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = a.Attempts
			}
		}
	}
	log.Printf("notify: dropped %s event for account %s: %v", e.Kind, e.AccountID, err)
}

// =============================================================================
// LOG SENDER - Default stand-in for the external push service
// =============================================================================

type LogSender struct{}

func (LogSender) Send(_ context.Context, e Event) error {
	log.Printf("notify: %s -> account %s %v", e.Kind, e.AccountID, e.Payload)
	return nil
}

// Drop discards all events. Used in tests.
type Drop struct{}

func (Drop) Dispatch(Event) {}
