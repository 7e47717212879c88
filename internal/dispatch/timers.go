// ABOUTME: Timer hook targets: idle warn, idle close, and menu choice expiry.
// ABOUTME: Each firing re-validates conversation state, so stale timers are no-ops.

package dispatch

import (
	"context"

	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/session"
)

// onIdleWarn fires after the silence budget. Only a conversation still
// actively in service gets the warning; anything else is a stale timer.
func (s *Scheduler) onIdleWarn(id identity.ID) {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || conv.Stage != session.StageInService {
		s.mu.Unlock()
		return
	}
	conv.Stage = session.StageIdleWarned
	fx.text(conv.ID, s.msgs.IdleWarning())
	s.persist(conv)
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}

// onIdleClose fires one stage after the warning. Any inbound activity in
// between moved the stage back to in-service and cancels this path.
func (s *Scheduler) onIdleClose(id identity.ID) {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || conv.Stage != session.StageIdleWarned {
		s.mu.Unlock()
		return
	}
	s.closeLocked(fx, conv, CloseReasonIdleTimeout)
	s.persist(conv)
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}

// onChoiceExpired fires when a menu drew no reply within the choice deadline
// and falls through to automatic selection.
func (s *Scheduler) onChoiceExpired(id identity.ID) {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || (conv.Stage != session.StageChoosingAgent && conv.Stage != session.StageReturningMenu) {
		s.mu.Unlock()
		return
	}
	s.logger.Info("menu choice expired, selecting automatically", "conversation", id)
	s.autoAssignLocked(fx, conv, "sem resposta no menu")
	s.persist(conv)
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}
