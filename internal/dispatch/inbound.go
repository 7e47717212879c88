// ABOUTME: Inbound message routing: the intake stage machine, escalation, and assignment.
// ABOUTME: All handlers run under the scheduler lock and push side effects into an effects set.

package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/donafarma/dispatch/internal/geo"
	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/queue"
	"github.com/donafarma/dispatch/internal/session"
	"github.com/donafarma/dispatch/internal/store"
)

// HandleInbound processes one customer message end to end: transcript,
// hours gate, stage routing, and whatever sends and notifications result.
func (s *Scheduler) HandleInbound(ctx context.Context, msg InboundMessage) {
	id := identity.Canonical(msg.From)
	if id == "" {
		s.logger.Warn("dropping message with empty sender", "from", msg.From)
		return
	}
	if s.metrics != nil {
		s.metrics.InboundMessages.Inc()
	}

	s.appendTranscript(ctx, id, store.SenderCustomer, "", msg.Text)

	fx := &effects{}
	s.mu.Lock()
	conv := s.conversationLocked(ctx, id)
	conv.LastActivityAt = s.now()
	s.routeLocked(fx, conv, msg.Text)
	s.persist(conv)
	s.mu.Unlock()

	s.apply(ctx, fx)
}

// conversationLocked returns the live conversation for an identity, creating
// it on first contact. The customer profile is hydrated from the store so a
// returning customer is recognized across restarts.
func (s *Scheduler) conversationLocked(ctx context.Context, id identity.ID) *session.Conversation {
	if conv, ok := s.convs[id]; ok {
		if conv.Profile == nil {
			conv.Profile = s.loadProfile(ctx, id)
		}
		return conv
	}

	conv := &session.Conversation{
		ID:      id,
		Stage:   session.StageNew,
		Profile: s.loadProfile(ctx, id),
	}
	s.convs[id] = conv
	return conv
}

func (s *Scheduler) loadProfile(ctx context.Context, id identity.ID) *session.Profile {
	cust, err := s.store.GetCustomer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("failed to load customer profile", "conversation", id, "error", err)
		return nil
	}
	return &session.Profile{
		Name:           cust.Name,
		LocationCode:   cust.LocationCode,
		AddressSummary: cust.AddressSummary,
		DistanceKm:     cust.DistanceKm,
		WithinRadius:   cust.WithinRadius,
		RegisteredAt:   cust.RegisteredAt,
	}
}

// routeLocked dispatches one message by stage. In-service messages bypass the
// hours gate: a conversation already bound to an agent keeps flowing even past
// closing time.
func (s *Scheduler) routeLocked(fx *effects, conv *session.Conversation, text string) {
	if conv.Stage.InService() {
		s.serviceMessageLocked(fx, conv, text)
		return
	}

	if !s.schedule.IsOpen(s.now()) {
		fx.text(conv.ID, s.msgs.OutsideHours(s.now(), conv.Profile))
		s.enqueueLocked(fx, conv, queue.ReasonOutsideHours, strings.TrimSpace(text))
		return
	}

	switch conv.Stage {
	case session.StageNew, session.StageClosed:
		s.firstContactLocked(fx, conv)
	case session.StageCollectingName:
		s.collectNameLocked(fx, conv, text)
	case session.StageCollectingLocation:
		s.collectLocationLocked(fx, conv, text)
	case session.StageChoosingAgent:
		s.chooseAgentLocked(fx, conv, text)
	case session.StageReturningMenu:
		s.returningChoiceLocked(fx, conv, text)
	default:
		s.logger.Error("conversation in impossible stage, resetting",
			"conversation", conv.ID, "stage", conv.Stage.String())
		s.resetLocked(conv)
		s.firstContactLocked(fx, conv)
	}
}

// serviceMessageLocked relays a customer message to the assigned agent. A
// conversation that claims to be in service but whose agent does not actually
// hold it is corrupt state; it resets to a clean first contact rather than
// guessing.
func (s *Scheduler) serviceMessageLocked(fx *effects, conv *session.Conversation, text string) {
	agentID := conv.AssignedAgent
	if agentID == "" || !s.pool.Holds(conv.ID, agentID) {
		s.logger.Error("in-service conversation without a holding agent, resetting",
			"conversation", conv.ID, "agent", agentID)
		s.resetLocked(conv)
		s.routeLocked(fx, conv, text)
		return
	}

	if conv.Stage == session.StageIdleWarned {
		conv.Stage = session.StageInService
	}
	s.idle.ResetIdle(conv.ID)
	fx.notify(func(n Notifier) { n.CustomerMessage(agentID, conv.ID, text) })
}

// resetLocked is the fail-safe: drop timers, release any half-held assignment,
// and put the conversation back at first contact. The customer profile is kept.
func (s *Scheduler) resetLocked(conv *session.Conversation) {
	s.idle.CancelAll(conv.ID)
	if conv.AssignedAgent != "" {
		s.pool.Release(conv.ID, conv.AssignedAgent)
		conv.AssignedAgent = ""
	}
	s.queue.Remove(conv.ID)
	conv.Stage = session.StageNew
	conv.Attempts = 0
	conv.PendingSince = nil
	conv.PendingName = ""
}

func (s *Scheduler) firstContactLocked(fx *effects, conv *session.Conversation) {
	conv.Attempts = 0

	if conv.Profile != nil {
		conv.Stage = session.StageReturningMenu
		fx.text(conv.ID, s.msgs.ReturningMenu(conv.Profile, s.pool.List()))
		s.idle.ArmChoice(conv.ID)
		return
	}

	conv.Stage = session.StageCollectingName
	fx.text(conv.ID, s.msgs.Welcome())
}

func (s *Scheduler) collectNameLocked(fx *effects, conv *session.Conversation, text string) {
	if !session.ValidName(text) {
		conv.Attempts++
		if conv.Attempts >= session.MaxInputAttempts {
			s.escalateLocked(fx, conv, "dificuldade no cadastro do nome")
			return
		}
		fx.text(conv.ID, s.msgs.InvalidName(conv.Attempts))
		return
	}

	conv.PendingName = strings.TrimSpace(text)
	conv.Attempts = 0
	conv.Stage = session.StageCollectingLocation
	fx.text(conv.ID, s.msgs.AskLocation(conv.PendingName))
}

func (s *Scheduler) collectLocationLocked(fx *effects, conv *session.Conversation, text string) {
	code, ok := session.NormalizeLocationCode(text)
	if !ok {
		conv.Attempts++
		if conv.Attempts >= session.MaxInputAttempts {
			s.escalateLocked(fx, conv, "dificuldade no cadastro do CEP")
			return
		}
		fx.text(conv.ID, s.msgs.InvalidLocation(conv.Attempts))
		return
	}

	fx.text(conv.ID, s.msgs.Consulting())
	fx.lookup = &lookupRequest{conv: conv.ID, code: code}
}

// applyLookupResult re-enters the scheduler with the outcome of an async
// eligibility lookup. The conversation may have moved on while the lookup
// ran; anything not still collecting its location makes the result stale.
func (s *Scheduler) applyLookupResult(id identity.ID, code string, elig *geo.Eligibility, err error) {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || conv.Stage != session.StageCollectingLocation {
		s.mu.Unlock()
		s.logger.Debug("discarding stale lookup result", "conversation", id)
		return
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.LookupFailures.Inc()
		}
		s.logger.Warn("eligibility lookup failed", "conversation", id, "code", code, "error", err)
		conv.Attempts++
		if conv.Attempts >= session.MaxLookupAttempts {
			s.escalateLocked(fx, conv, "falha na consulta do CEP")
		} else {
			fx.text(conv.ID, s.msgs.LookupFailed())
		}
		s.persist(conv)
		s.mu.Unlock()
		s.apply(context.Background(), fx)
		return
	}

	profile := &session.Profile{
		Name:           conv.PendingName,
		LocationCode:   code,
		AddressSummary: elig.AddressSummary,
		DistanceKm:     elig.DistanceKm,
		WithinRadius:   elig.WithinRadius,
		RegisteredAt:   s.now(),
	}
	conv.Profile = profile
	conv.Attempts = 0
	conv.Stage = session.StageChoosingAgent
	s.saveProfile(conv.ID, profile)

	fx.text(conv.ID, s.msgs.EligibilityResult(profile))
	fx.text(conv.ID, s.msgs.AgentMenu(s.pool.List()))
	s.idle.ArmChoice(conv.ID)
	s.persist(conv)
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}

func (s *Scheduler) saveProfile(id identity.ID, p *session.Profile) {
	err := s.store.SaveCustomer(context.Background(), &store.Customer{
		ID:             id,
		Name:           p.Name,
		LocationCode:   p.LocationCode,
		AddressSummary: p.AddressSummary,
		DistanceKm:     p.DistanceKm,
		WithinRadius:   p.WithinRadius,
		RegisteredAt:   p.RegisteredAt,
	})
	if err != nil {
		s.logger.Warn("failed to save customer profile", "conversation", id, "error", err)
	}
}

func (s *Scheduler) chooseAgentLocked(fx *effects, conv *session.Conversation, text string) {
	s.idle.CancelChoice(conv.ID)

	roster := s.pool.Roster()
	action := session.DecodeMenu(text, len(roster), false)
	if action.Kind == session.MenuPickAgent {
		s.explicitPickLocked(fx, conv, roster[action.AgentIndex])
		return
	}
	s.autoAssignLocked(fx, conv, action.Text)
}

func (s *Scheduler) returningChoiceLocked(fx *effects, conv *session.Conversation, text string) {
	s.idle.CancelChoice(conv.ID)

	roster := s.pool.Roster()
	action := session.DecodeMenu(text, len(roster), true)
	switch action.Kind {
	case session.MenuPickAgent:
		conv.Stage = session.StageChoosingAgent
		s.explicitPickLocked(fx, conv, roster[action.AgentIndex])
	case session.MenuShowHours:
		conv.Stage = session.StageClosed
		fx.text(conv.ID, s.msgs.HoursTable(s.now()))
	default:
		conv.Stage = session.StageChoosingAgent
		s.autoAssignLocked(fx, conv, action.Text)
	}
}

// explicitPickLocked handles a numbered menu choice. If the chosen agent
// cannot take the conversation right now, the customer is told and an
// automatic fallback selection fires after a short delay.
func (s *Scheduler) explicitPickLocked(fx *effects, conv *session.Conversation, agentID string) {
	snap, ok := s.pool.Get(agentID)
	if !ok {
		s.autoAssignLocked(fx, conv, "escolha inválida")
		return
	}

	if s.pool.CanAccept(agentID) {
		s.beginServiceLocked(fx, conv, agentID, "", "")
		return
	}

	if snap.Availability == pool.Offline {
		fx.text(conv.ID, s.msgs.AgentOffline(snap.Name))
	} else {
		fx.text(conv.ID, s.msgs.AgentBusy(snap.Name))
	}
	fx.fallback = conv.ID
}

// fallbackAssign runs after the explicit-pick delay and retries with the
// automatic selector, unless the conversation already found a home.
func (s *Scheduler) fallbackAssign(id identity.ID) {
	fx := &effects{}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || (conv.Stage != session.StageChoosingAgent && conv.Stage != session.StageReturningMenu) {
		s.mu.Unlock()
		return
	}
	s.autoAssignLocked(fx, conv, "atendente indisponível")
	s.persist(conv)
	s.mu.Unlock()

	s.apply(context.Background(), fx)
}

// autoAssignLocked runs the least-loaded selector. With no capacity anywhere
// the conversation parks in the pending queue and stays at agent choice, so a
// later message or a capacity event can pick it up.
func (s *Scheduler) autoAssignLocked(fx *effects, conv *session.Conversation, note string) {
	conv.Stage = session.StageChoosingAgent

	agentID := s.pool.SelectBest()
	if agentID == "" {
		fx.text(conv.ID, s.msgs.AllBusy())
		s.enqueueLocked(fx, conv, queue.ReasonNoCapacity, note)
		return
	}
	s.beginServiceLocked(fx, conv, agentID, "", "")
}

// escalateLocked routes a struggling intake straight to an agent, skipping the
// remaining registration steps.
func (s *Scheduler) escalateLocked(fx *effects, conv *session.Conversation, motive string) {
	s.logger.Info("escalating conversation to an agent",
		"conversation", conv.ID, "motive", motive, "attempts", conv.Attempts)
	conv.Attempts = 0
	fx.text(conv.ID, s.msgs.Escalating())
	s.autoAssignLocked(fx, conv, motive)
}

// enqueueLocked parks a conversation in the pending backlog, idempotently.
func (s *Scheduler) enqueueLocked(fx *effects, conv *session.Conversation, reason queue.Reason, note string) {
	entry, added := s.queue.Enqueue(conv.ID, reason, note, s.now())
	if !added {
		return
	}

	now := s.now()
	conv.PendingSince = &now

	if err := s.store.SaveQueueEntry(context.Background(), &store.QueueEntry{
		ID:             entry.ID,
		ConversationID: entry.ConversationID,
		Reason:         string(entry.Reason),
		Note:           entry.Note,
		EnqueuedAt:     entry.EnqueuedAt,
	}); err != nil {
		s.logger.Warn("failed to persist queue entry", "conversation", conv.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.QueuedTotal.WithLabelValues(string(reason)).Inc()
	}
	fx.depth(s.queue.Len())
}

// beginServiceLocked is the single commit point for an assignment: the pool
// add happens first, and only on success does the conversation flip to
// in-service. transferredFrom is set when the binding came from a transfer.
func (s *Scheduler) beginServiceLocked(fx *effects, conv *session.Conversation, agentID, transferredFrom, fromName string) {
	if err := s.pool.Assign(conv.ID, agentID); err != nil {
		if errors.Is(err, pool.ErrAtCapacity) || errors.Is(err, pool.ErrAgentOffline) {
			fx.text(conv.ID, s.msgs.AllBusy())
			s.enqueueLocked(fx, conv, queue.ReasonNoCapacity, "capacidade esgotada")
			return
		}
		s.logger.Error("assignment failed", "conversation", conv.ID, "agent", agentID, "error", err)
		return
	}

	conv.AssignedAgent = agentID
	conv.Stage = session.StageInService
	conv.StartedAt = s.now()
	conv.Attempts = 0
	conv.PendingSince = nil

	if s.queue.Remove(conv.ID) {
		if err := s.store.DeleteQueueEntry(context.Background(), conv.ID); err != nil {
			s.logger.Warn("failed to delete queue entry", "conversation", conv.ID, "error", err)
		}
		fx.depth(s.queue.Len())
	}

	s.idle.CancelChoice(conv.ID)
	s.idle.ResetIdle(conv.ID)

	if err := s.store.IncrementServed(context.Background(), agentID, s.today()); err != nil {
		s.logger.Warn("failed to bump served counter", "agent", agentID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.AssignmentsTotal.WithLabelValues(agentID).Inc()
		s.metrics.ActiveConversations.Inc()
	}

	snap, _ := s.pool.Get(agentID)
	fx.text(conv.ID, s.msgs.Connected(snap.Name, conv.Profile))

	summary := s.summaryLocked(conv)
	if transferredFrom != "" {
		summary.Transferred = true
		summary.FromAgent = fromName
	}
	fx.notify(func(n Notifier) { n.NewAssignment(agentID, summary) })

	s.logger.Info("conversation in service",
		"conversation", conv.ID,
		"agent", agentID,
		"transferred", transferredFrom != "",
	)
}

// closeLocked ends a conversation unconditionally: timers die and capacity is
// released first, then the freed slot drains the pending queue.
func (s *Scheduler) closeLocked(fx *effects, conv *session.Conversation, reason string) {
	s.idle.CancelAll(conv.ID)

	agentID := conv.AssignedAgent
	wasInService := conv.Stage.InService()
	if agentID != "" {
		s.pool.Release(conv.ID, agentID)
		conv.AssignedAgent = ""
	}

	if s.queue.Remove(conv.ID) {
		if err := s.store.DeleteQueueEntry(context.Background(), conv.ID); err != nil {
			s.logger.Warn("failed to delete queue entry", "conversation", conv.ID, "error", err)
		}
		fx.depth(s.queue.Len())
	}

	conv.Stage = session.StageClosed
	conv.PendingSince = nil
	conv.Attempts = 0

	var name string
	if conv.Profile != nil {
		name = conv.Profile.Name
	}
	fx.text(conv.ID, s.msgs.Closed(name, reason))

	if agentID != "" {
		convID := conv.ID
		fx.notify(func(n Notifier) { n.ConversationClosed(agentID, convID, reason) })
	}
	if s.metrics != nil {
		s.metrics.ClosuresTotal.WithLabelValues(reason).Inc()
		if wasInService {
			s.metrics.ActiveConversations.Dec()
		}
	}

	attrs := []any{
		"conversation", conv.ID,
		"agent", agentID,
		"reason", reason,
	}
	if wasInService && !conv.StartedAt.IsZero() {
		attrs = append(attrs, "duration", s.now().Sub(conv.StartedAt).Round(time.Second))
	}
	s.logger.Info("conversation closed", attrs...)

	s.drainLocked(fx)
}

// drainLocked reactivates parked conversations while capacity lasts, oldest
// first. Runs after every capacity-increasing event.
func (s *Scheduler) drainLocked(fx *effects) {
	for {
		head, ok := s.queue.Peek()
		if !ok {
			return
		}
		if !s.schedule.IsOpen(s.now()) && head.Reason == queue.ReasonOutsideHours {
			return
		}
		agentID := s.pool.SelectBest()
		if agentID == "" {
			return
		}

		s.queue.Pop()
		if err := s.store.DeleteQueueEntry(context.Background(), head.ConversationID); err != nil {
			s.logger.Warn("failed to delete queue entry", "conversation", head.ConversationID, "error", err)
		}
		fx.depth(s.queue.Len())

		conv, ok := s.convs[head.ConversationID]
		if !ok {
			s.logger.Warn("dropping queue entry for unknown conversation", "conversation", head.ConversationID)
			continue
		}
		if conv.Stage.InService() {
			continue
		}

		// Parked before registering (outside hours mid-intake): resume the
		// intake instead of binding an unregistered customer to an agent.
		// A returning customer parked at closed stage has a profile and is
		// assigned directly, as promised by the hours notice.
		if conv.Profile == nil && conv.Stage != session.StageChoosingAgent {
			s.firstContactLocked(fx, conv)
			s.persist(conv)
			continue
		}

		s.beginServiceLocked(fx, conv, agentID, "", "")
		s.persist(conv)
	}
}
