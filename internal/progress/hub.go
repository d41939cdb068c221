package progress

import (
	"sync"

	"inzikt/internal/types"
)

// subscriberBuffer bounds per-subscriber backlog. When full the oldest
// queued update is dropped; every update carries the full row.
const subscriberBuffer = 16

// Filter selects the jobs a subscriber follows: one job by id, or every job
// of a type for a user.
type Filter struct {
	JobID   string
	UserID  string
	JobType types.AdhocJobType
}

// Matches reports whether job is selected by f.
func (f Filter) Matches(job *types.AdhocJob) bool {
	if f.JobID != "" {
		return job.ID == f.JobID
	}
	if job.UserID != f.UserID {
		return false
	}
	return f.JobType == "" || job.JobType == f.JobType
}

// Subscription receives job rows matching its filter.
type Subscription struct {
	C      <-chan types.AdhocJob
	ch     chan types.AdhocJob
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans job rows out to local subscribers. Brokers feed it.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for f.
func (h *Hub) Subscribe(f Filter) *Subscription {
	ch := make(chan types.AdhocJob, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, filter: f, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Deliver hands job to every matching subscriber without blocking.
func (h *Hub) Deliver(job types.AdhocJob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.filter.Matches(&job) {
			continue
		}
		select {
		case s.ch <- job:
			continue
		default:
		}
		// Drop the oldest queued row to make room for the newest.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- job:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
