package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marlin/loyalty-engine/notify"
)

// flakySender fails the first n sends, then succeeds.
type flakySender struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (s *flakySender) Send(_ context.Context, _ notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return errors.New("push service unavailable")
	}
	close(s.done)
	return nil
}

func TestDispatch_RetriesUntilDelivered(t *testing.T) {
	sender := &flakySender{failures: 2, done: make(chan struct{})}

	a := notify.NewAsync(sender)
	a.Backoff = time.Millisecond

	a.Dispatch(notify.Event{AccountID: "angler-1", Kind: "coupon_issued"})

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was never delivered")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 3, sender.calls)
}

func TestDispatch_NeverBlocksOrPropagatesFailure(t *testing.T) {
	// A sender that always fails: Dispatch returns immediately and the drop
	// is only logged.

	sender := &flakySender{failures: 1 << 30, done: make(chan struct{})}

	a := notify.NewAsync(sender)
	a.Backoff = time.Millisecond
	a.Timeout = 50 * time.Millisecond

	start := time.Now()
	a.Dispatch(notify.Event{AccountID: "angler-1", Kind: "coupon_used"})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
