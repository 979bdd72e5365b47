package identity

import (
	"sync"

	"github.com/rideops/console/internal/console/domain"
)

// EventKind labels a session-change notification.
type EventKind string

const (
	// EventSignedOut means the session was revoked, possibly elsewhere.
	EventSignedOut EventKind = "SIGNED_OUT"
	// EventUpdated means the session token was rotated or reissued.
	EventUpdated EventKind = "UPDATED"
	// EventAccountDeleted means the account behind the session is gone.
	EventAccountDeleted EventKind = "ACCOUNT_DELETED"
)

// Event is a session-change notification pushed by the identity service.
type Event struct {
	Kind    EventKind
	Session *domain.Session

	// UserChanged marks events that signal a credential or profile change,
	// prompting subscribers to re-fetch dependent state.
	UserChanged bool
}

// Broadcaster fans session-change events out to subscribers in emit order.
type Broadcaster struct {
	mu       sync.Mutex
	next     int
	subs     map[int]func(Event)
	pending  []Event
	draining bool
}

// Subscribe registers fn and returns a cancel function. Events are delivered
// off the caller's goroutine so a subscriber can safely call back into the
// client.
func (b *Broadcaster) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]func(Event))
	}
	id := b.next
	b.next++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit queues ev for delivery to every subscriber. Delivery is asynchronous
// but strictly in emit order: a sign-out emitted after a rotation is never
// handled before it.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	go b.drain()
}

// drain delivers queued events one at a time. At most one drainer runs at
// any moment, which is what serialises competing triggers. Subscribers are
// snapshotted per event so one registered mid-queue sees only later events.
func (b *Broadcaster) drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		ev := b.pending[0]
		b.pending = b.pending[1:]
		fns := make([]func(Event), 0, len(b.subs))
		for _, fn := range b.subs {
			fns = append(fns, fn)
		}
		b.mu.Unlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}
