// ABOUTME: Agent-side commands: presence, replies, closing, and transfers.
// ABOUTME: Capacity-increasing commands drain the pending queue before returning.

package dispatch

import (
	"context"
	"fmt"

	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/session"
	"github.com/donafarma/dispatch/internal/store"
)

// AgentLogin marks an agent online and immediately drains the pending queue
// into the new capacity.
func (s *Scheduler) AgentLogin(ctx context.Context, agentID string) error {
	fx := &effects{}

	s.mu.Lock()
	if err := s.pool.SetOnline(agentID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.drainLocked(fx)
	s.mu.Unlock()

	s.apply(ctx, fx)
	return nil
}

// AgentLogout stops new automatic assignments to the agent. Conversations the
// agent already holds keep flowing until they close.
func (s *Scheduler) AgentLogout(ctx context.Context, agentID string) error {
	return s.pool.SetOffline(agentID)
}

// SetAgentStatus flips an agent's presence. Going online drains the queue,
// same as a login.
func (s *Scheduler) SetAgentStatus(ctx context.Context, agentID string, online bool) error {
	if online {
		return s.AgentLogin(ctx, agentID)
	}
	return s.AgentLogout(ctx, agentID)
}

// SendAsAgent relays an agent reply to the customer and restarts the idle
// clock. The agent must actually hold the conversation.
func (s *Scheduler) SendAsAgent(ctx context.Context, agentID string, conversationID identity.ID, text string) error {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if !conv.Stage.InService() || conv.AssignedAgent != agentID {
		s.mu.Unlock()
		return pool.ErrNotAssigned
	}
	conv.Stage = session.StageInService
	s.idle.ResetIdle(conv.ID)
	s.persist(conv)
	s.mu.Unlock()

	if err := s.sender.SendText(ctx, conversationID, text); err != nil {
		return fmt.Errorf("sending agent reply: %w", err)
	}
	s.appendTranscript(ctx, conversationID, store.SenderAgent, agentID, text)
	return nil
}

// CloseByAgent ends a conversation on the holding agent's request.
func (s *Scheduler) CloseByAgent(ctx context.Context, agentID string, conversationID identity.ID) error {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if conv.AssignedAgent != agentID {
		s.mu.Unlock()
		return pool.ErrNotAssigned
	}
	s.closeLocked(fx, conv, CloseReasonAgent)
	s.persist(conv)
	s.mu.Unlock()

	s.apply(ctx, fx)
	return nil
}

// CloseBySystem ends a conversation regardless of who holds it. Used by
// operational tooling; the customer gets the standard closing message.
func (s *Scheduler) CloseBySystem(ctx context.Context, conversationID identity.ID) error {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.closeLocked(fx, conv, CloseReasonSystem)
	s.persist(conv)
	s.mu.Unlock()

	s.apply(ctx, fx)
	return nil
}

// Transfer moves an in-service conversation from one agent to another. The
// destination must be online and under capacity; on success both consoles are
// notified and the customer sees a handover message.
func (s *Scheduler) Transfer(ctx context.Context, conversationID identity.ID, fromID, toID string) error {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if !conv.Stage.InService() || conv.AssignedAgent != fromID {
		s.mu.Unlock()
		return pool.ErrNotAssigned
	}
	if err := s.pool.Transfer(conversationID, fromID, toID); err != nil {
		s.mu.Unlock()
		return err
	}

	fromSnap, _ := s.pool.Get(fromID)
	toSnap, _ := s.pool.Get(toID)

	conv.AssignedAgent = toID
	conv.Stage = session.StageInService
	s.idle.ResetIdle(conv.ID)

	fx.text(conv.ID, s.msgs.Transferred(toSnap.Name))

	summary := s.summaryLocked(conv)
	summary.Transferred = true
	summary.FromAgent = fromSnap.Name
	fx.notify(func(n Notifier) { n.NewAssignment(toID, summary) })
	fx.notify(func(n Notifier) { n.ConversationClosed(fromID, conversationID, "transferred") })

	if s.metrics != nil {
		s.metrics.AssignmentsTotal.WithLabelValues(toID).Inc()
	}

	s.persist(conv)
	s.logger.Info("conversation transferred",
		"conversation", conversationID,
		"from", fromID,
		"to", toID,
	)

	// The source agent just freed a slot.
	s.drainLocked(fx)
	s.mu.Unlock()

	s.apply(ctx, fx)
	return nil
}
