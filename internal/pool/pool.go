// ABOUTME: Manages the agent roster, capacity accounting, and assignment selection.
// ABOUTME: Central coordinator for who handles which conversation, least-loaded with round-robin ties.

package pool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/donafarma/dispatch/internal/identity"
)

// ErrAgentNotFound indicates the specified agent is not in the roster.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentOffline indicates the agent is not accepting assignments.
var ErrAgentOffline = errors.New("agent is offline")

// ErrAtCapacity indicates the agent has reached its concurrency ceiling.
var ErrAtCapacity = errors.New("agent at capacity")

// ErrNotAssigned indicates the conversation is not held by the given agent.
var ErrNotAssigned = errors.New("conversation not assigned to agent")

// Availability is the externally visible agent state. Occupancy is binary for
// display; the capacity limit is the real assignment gate.
type Availability string

const (
	Offline   Availability = "offline"
	Available Availability = "available"
	Busy      Availability = "busy"
)

// Agent is one human operator. The active set is mutated only by Pool methods.
type Agent struct {
	ID          string
	Name        string
	Capacity    int
	online      bool
	active      map[identity.ID]struct{}
	servedToday int
}

// Availability derives the display state from presence and occupancy.
func (a *Agent) Availability() Availability {
	switch {
	case !a.online:
		return Offline
	case len(a.active) > 0:
		return Busy
	default:
		return Available
	}
}

// Snapshot is a read-only copy of one agent's state for display and tests.
type Snapshot struct {
	ID           string
	Name         string
	Capacity     int
	Availability Availability
	Active       []identity.ID
	ServedToday  int
}

// Pool tracks every agent and owns the assignment algorithm. The roster is
// fixed at construction; only presence, active sets, and counters change.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string // roster in configuration order, for menus and fair ties
	rr     int      // rotating tie-break pointer, incremented on every selection
	logger *slog.Logger
}

// Spec describes one agent at configuration load.
type Spec struct {
	ID       string
	Name     string
	Capacity int
}

// New builds a Pool from the configured roster. Everyone starts offline.
func New(specs []Spec, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		agents: make(map[string]*Agent, len(specs)),
		logger: logger.With("component", "pool"),
	}
	for _, s := range specs {
		p.agents[s.ID] = &Agent{
			ID:       s.ID,
			Name:     s.Name,
			Capacity: s.Capacity,
			active:   make(map[identity.ID]struct{}),
		}
		p.order = append(p.order, s.ID)
	}
	return p
}

// SelectBest picks the online agent with the fewest active conversations that
// is still under its capacity limit. Ties rotate through the roster so equal
// load never starves an agent. Returns "" when no one has room.
func (p *Pool) SelectBest() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := -1
	var ties []string
	for _, id := range p.order {
		a := p.agents[id]
		if !a.online || len(a.active) >= a.Capacity {
			continue
		}
		load := len(a.active)
		switch {
		case best < 0 || load < best:
			best = load
			ties = ties[:0]
			ties = append(ties, id)
		case load == best:
			ties = append(ties, id)
		}
	}
	if len(ties) == 0 {
		return ""
	}

	picked := ties[p.rr%len(ties)]
	p.rr++
	return picked
}

// Assign adds a conversation to the agent's active set. The add is idempotent;
// a duplicate assign of the same pair is a no-op that still succeeds. The
// served-today counter increments only on a fresh add.
func (p *Pool) Assign(conv identity.ID, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if _, held := a.active[conv]; held {
		return nil
	}
	if !a.online {
		return ErrAgentOffline
	}
	if len(a.active) >= a.Capacity {
		return ErrAtCapacity
	}

	a.active[conv] = struct{}{}
	a.servedToday++
	p.logger.Info("conversation assigned",
		"conversation", conv,
		"agent", agentID,
		"load", len(a.active),
		"capacity", a.Capacity,
	)
	return nil
}

// Release removes a conversation from the agent's active set. Releasing a pair
// that is not held is a no-op.
func (p *Pool) Release(conv identity.ID, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return
	}
	if _, held := a.active[conv]; !held {
		return
	}
	delete(a.active, conv)
	p.logger.Info("conversation released",
		"conversation", conv,
		"agent", agentID,
		"load", len(a.active),
	)
}

// Holds reports whether the agent's active set contains the conversation.
func (p *Pool) Holds(conv identity.ID, agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.agents[agentID]
	if !ok {
		return false
	}
	_, held := a.active[conv]
	return held
}

// Transfer moves an active conversation between two agents. The destination
// must be online and under capacity; the source must actually hold it.
func (p *Pool) Transfer(conv identity.ID, fromID, toID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from, ok := p.agents[fromID]
	if !ok {
		return ErrAgentNotFound
	}
	to, ok := p.agents[toID]
	if !ok {
		return ErrAgentNotFound
	}
	if _, held := from.active[conv]; !held {
		return ErrNotAssigned
	}
	if !to.online {
		return ErrAgentOffline
	}
	if len(to.active) >= to.Capacity {
		return ErrAtCapacity
	}

	delete(from.active, conv)
	to.active[conv] = struct{}{}
	p.logger.Info("conversation transferred",
		"conversation", conv,
		"from", fromID,
		"to", toID,
	)
	return nil
}

// SetOnline marks an agent as accepting assignments.
func (p *Pool) SetOnline(agentID string) error {
	return p.setPresence(agentID, true)
}

// SetOffline stops new automatic assignments. Active conversations continue;
// the agent keeps serving them until they close.
func (p *Pool) SetOffline(agentID string) error {
	return p.setPresence(agentID, false)
}

func (p *Pool) setPresence(agentID string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if a.online == online {
		return nil
	}
	a.online = online
	p.logger.Info("agent presence changed",
		"agent", agentID,
		"online", online,
		"load", len(a.active),
	)
	return nil
}

// IsOnline reports whether the agent is accepting assignments.
func (p *Pool) IsOnline(agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.agents[agentID]
	return ok && a.online
}

// CanAccept reports whether the agent is online and under capacity.
func (p *Pool) CanAccept(agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.agents[agentID]
	return ok && a.online && len(a.active) < a.Capacity
}

// Get returns a snapshot of one agent.
func (p *Pool) Get(agentID string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.agents[agentID]
	if !ok {
		return Snapshot{}, false
	}
	return p.snapshotLocked(a), true
}

// List returns snapshots of every agent in roster order.
func (p *Pool) List() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Snapshot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.snapshotLocked(p.agents[id]))
	}
	return out
}

// Roster returns the agent IDs in configuration order (menu order).
func (p *Pool) Roster() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// SetServedToday seeds the lifetime counter from persistence at startup.
func (p *Pool) SetServedToday(agentID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.agents[agentID]; ok {
		a.servedToday = n
	}
}

func (p *Pool) snapshotLocked(a *Agent) Snapshot {
	active := make([]identity.ID, 0, len(a.active))
	for id := range a.active {
		active = append(active, id)
	}
	return Snapshot{
		ID:           a.ID,
		Name:         a.Name,
		Capacity:     a.Capacity,
		Availability: a.Availability(),
		Active:       active,
		ServedToday:  a.servedToday,
	}
}
