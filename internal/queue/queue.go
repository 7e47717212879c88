// ABOUTME: FIFO backlog of conversations waiting for an agent or for opening hours.
// ABOUTME: Idempotent enqueue keyed by conversation, with a staleness sweep.

package queue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donafarma/dispatch/internal/identity"
)

// Reason tags why a conversation was parked.
type Reason string

const (
	// ReasonNoCapacity means every online agent was at its limit (or no one
	// was online) when the conversation asked for service.
	ReasonNoCapacity Reason = "no-capacity"
	// ReasonOutsideHours means the contact arrived while the store was closed.
	ReasonOutsideHours Reason = "outside-hours"
)

// Entry is one parked conversation.
type Entry struct {
	ID             string
	ConversationID identity.ID
	Reason         Reason
	Note           string // snapshot of the triggering message or motive
	EnqueuedAt     time.Time
}

// Queue is the pending backlog, FIFO by enqueue time. A conversation appears
// at most once; re-enqueueing an already parked conversation is a no-op.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[identity.ID]*Entry
	logger  *slog.Logger
}

// New creates an empty queue.
func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		index:  make(map[identity.ID]*Entry),
		logger: logger.With("component", "queue"),
	}
}

// Enqueue parks a conversation. Returns the entry and true when it was added,
// or the existing entry and false when the conversation was already parked.
func (q *Queue) Enqueue(conv identity.ID, reason Reason, note string, now time.Time) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.index[conv]; ok {
		return existing, false
	}

	e := &Entry{
		ID:             uuid.New().String(),
		ConversationID: conv,
		Reason:         reason,
		Note:           note,
		EnqueuedAt:     now,
	}
	q.entries = append(q.entries, e)
	q.index[conv] = e
	q.logger.Info("conversation queued",
		"conversation", conv,
		"reason", reason,
		"depth", len(q.entries),
	)
	return e, true
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.index, e.ConversationID)
	return e, true
}

// Remove drops a parked conversation, e.g. because it was assigned through
// another path. Returns true when something was removed.
func (q *Queue) Remove(conv identity.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[conv]; !ok {
		return false
	}
	delete(q.index, conv)
	for i, e := range q.entries {
		if e.ConversationID == conv {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether the conversation is parked.
func (q *Queue) Contains(conv identity.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.index[conv]
	return ok
}

// Len returns the current backlog depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Sweep removes entries enqueued before the cutoff and returns them.
func (q *Queue) Sweep(cutoff time.Time) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*Entry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			delete(q.index, e.ConversationID)
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	if len(removed) > 0 {
		q.logger.Info("swept stale queue entries", "removed", len(removed), "depth", len(q.entries))
	}
	return removed
}

// Snapshot returns a copy of all entries in FIFO order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Restore replaces the queue contents from persistence, re-sorting by enqueue
// time and dropping duplicate conversations (first wins).
func (q *Queue) Restore(entries []Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})

	q.entries = q.entries[:0]
	q.index = make(map[identity.ID]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		if _, dup := q.index[e.ConversationID]; dup {
			continue
		}
		copied := e
		q.entries = append(q.entries, &copied)
		q.index[e.ConversationID] = &copied
	}
}
