// ABOUTME: Per-conversation inactivity timers: warn after silence, close a minute later.
// ABOUTME: Also owns the short no-reply deadline used by menus; all handles are cancellable.

package idle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/donafarma/dispatch/internal/identity"
)

// Hooks are the callbacks fired by the supervisor. Every hook runs on a timer
// goroutine and must funnel back into the scheduler's serialized entry point;
// the hook target re-validates conversation state, so a stale firing is a no-op.
type Hooks struct {
	// Warn fires after the warn duration with no inbound activity in service.
	Warn func(conv identity.ID)
	// Close fires one stage later if the warning drew no activity.
	Close func(conv identity.ID)
	// ChoiceExpired fires when a menu got no reply within the choice deadline.
	ChoiceExpired func(conv identity.ID)
}

// handle is one armed timer. The generation number makes cancellation exact:
// a firing whose generation no longer matches the stored handle is stale.
type handle struct {
	gen   uint64
	timer *time.Timer
}

// Supervisor schedules and cancels the idle warn/close pair and the menu
// choice deadline. At most one live handle of each kind per conversation;
// arming always supersedes the previous handle.
type Supervisor struct {
	mu      sync.Mutex
	warn    time.Duration
	close   time.Duration
	choice  time.Duration
	hooks   Hooks
	nextGen uint64
	idle    map[identity.ID]*handle
	menus   map[identity.ID]*handle
	logger  *slog.Logger
}

// New creates a supervisor. warn is the silence budget before the warning,
// close the extra grace after it, choice the menu no-reply deadline.
func New(warn, close, choice time.Duration, hooks Hooks, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		warn:   warn,
		close:  close,
		choice: choice,
		hooks:  hooks,
		idle:   make(map[identity.ID]*handle),
		menus:  make(map[identity.ID]*handle),
		logger: logger.With("component", "idle"),
	}
}

// ResetIdle arms (or re-arms) the two-stage idle timer for a conversation.
// Any pending warn or close stage is cancelled and stage 1 restarts from zero.
func (s *Supervisor) ResetIdle(conv identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(s.idle, conv)

	s.nextGen++
	gen := s.nextGen
	h := &handle{gen: gen}
	h.timer = time.AfterFunc(s.warn, func() { s.fireWarn(conv, gen) })
	s.idle[conv] = h
}

// CancelIdle drops any pending idle stage for the conversation.
func (s *Supervisor) CancelIdle(conv identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(s.idle, conv)
}

// ArmChoice starts the menu no-reply deadline, superseding any previous one.
func (s *Supervisor) ArmChoice(conv identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(s.menus, conv)

	s.nextGen++
	gen := s.nextGen
	h := &handle{gen: gen}
	h.timer = time.AfterFunc(s.choice, func() { s.fireChoice(conv, gen) })
	s.menus[conv] = h
}

// CancelChoice drops any pending menu deadline for the conversation.
func (s *Supervisor) CancelChoice(conv identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(s.menus, conv)
}

// CancelAll drops every timer the conversation holds. Called on close.
func (s *Supervisor) CancelAll(conv identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(s.idle, conv)
	s.cancelLocked(s.menus, conv)
}

// fireWarn runs when stage 1 expires. If the handle is still current it is
// rotated into stage 2 before the hook runs, so activity between the stages
// cancels the close cleanly.
func (s *Supervisor) fireWarn(conv identity.ID, gen uint64) {
	s.mu.Lock()
	h, ok := s.idle[conv]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	h.timer = time.AfterFunc(s.close, func() { s.fireClose(conv, gen) })
	s.mu.Unlock()

	s.logger.Debug("idle warning fired", "conversation", conv)
	if s.hooks.Warn != nil {
		s.hooks.Warn(conv)
	}
}

func (s *Supervisor) fireClose(conv identity.ID, gen uint64) {
	s.mu.Lock()
	h, ok := s.idle[conv]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.idle, conv)
	s.mu.Unlock()

	s.logger.Debug("idle close fired", "conversation", conv)
	if s.hooks.Close != nil {
		s.hooks.Close(conv)
	}
}

func (s *Supervisor) fireChoice(conv identity.ID, gen uint64) {
	s.mu.Lock()
	h, ok := s.menus[conv]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.menus, conv)
	s.mu.Unlock()

	s.logger.Debug("choice deadline fired", "conversation", conv)
	if s.hooks.ChoiceExpired != nil {
		s.hooks.ChoiceExpired(conv)
	}
}

func (s *Supervisor) cancelLocked(m map[identity.ID]*handle, conv identity.ID) {
	if h, ok := m[conv]; ok {
		h.timer.Stop()
		delete(m, conv)
	}
}
