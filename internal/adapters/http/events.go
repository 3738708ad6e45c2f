package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/niallgpt/niallgpt/internal/domain"
	"github.com/niallgpt/niallgpt/internal/observability"
)

const (
	EventMessage = "message"
	EventAlert   = "alert"
)

// Event is one update pushed to /events subscribers: a message snapshot or
// a user-visible alert.
type Event struct {
	Kind      string           `json:"-"`
	SessionID string           `json:"session_id,omitempty"`
	Message   *messageResponse `json:"message,omitempty"`
	Alert     string           `json:"alert,omitempty"`
}

func (e Event) sameMessage(other Event) bool {
	return e.Message != nil && other.Message != nil &&
		e.SessionID == other.SessionID && e.Message.ID == other.Message.ID
}

// Broker fans orchestrator message updates and alerts out to SSE
// subscribers without blocking the stream. Each message snapshot carries the
// full text, so a pending snapshot is replaced by a newer one for the same
// message instead of queueing both. Finished messages and alerts are never
// dropped.
type Broker struct {
	buffer int

	mu   sync.Mutex
	subs map[int]*Subscription
	next int
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[int]*Subscription),
	}
}

// MessageUpdated implements chat.Observer.
func (b *Broker) MessageUpdated(sessionID domain.SessionID, msg *domain.Message) {
	resp := toMessageResponse(msg)
	b.publish(Event{Kind: EventMessage, SessionID: string(sessionID), Message: &resp})
}

// Alert pushes a user-visible alert, e.g. sessions no longer being saved.
func (b *Broker) Alert(err error) {
	b.publish(Event{Kind: EventAlert, Alert: err.Error()})
}

func (b *Broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.push(ev, b.buffer)
	}
}

// Subscribe registers a listener. The returned func unsubscribes; it is safe
// to call more than once.
func (b *Broker) Subscribe() (*Subscription, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &Subscription{id: id, ready: make(chan struct{}, 1)}
	b.subs[id] = sub

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscription is one listener's pending queue.
type Subscription struct {
	id    int
	ready chan struct{}

	mu      sync.Mutex
	pending []Event
}

// Ready is signalled whenever events are pending.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns and clears the pending events in arrival order.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	return out
}

func (s *Subscription) push(ev Event, limit int) {
	s.mu.Lock()
	s.enqueueLocked(ev, limit)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) enqueueLocked(ev Event, limit int) {
	for i, p := range s.pending {
		if p.sameMessage(ev) {
			s.pending[i] = ev
			return
		}
	}

	if len(s.pending) >= limit {
		// only an in-progress snapshot may go; a later one supersedes it
		for i, p := range s.pending {
			if p.Message != nil && p.Message.IsLoading {
				observability.Logger().Debug("event dropped", "subscriber", s.id, "message_id", p.Message.ID)
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	s.pending = append(s.pending, ev)
}

// /events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		internalError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}

	sub, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				data, err := json.Marshal(ev)
				if err != nil {
					observability.LoggerFromContext(r.Context()).Error("encode event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			}
			flusher.Flush()
		}
	}
}
