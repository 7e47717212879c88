// ABOUTME: Scheduler aggregate that serializes every dispatch mutation behind one mutex.
// ABOUTME: Owns conversations, drives the pool, queue, and timers, and emits outbound effects.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donafarma/dispatch/internal/config"
	"github.com/donafarma/dispatch/internal/geo"
	"github.com/donafarma/dispatch/internal/hours"
	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/idle"
	"github.com/donafarma/dispatch/internal/metrics"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/queue"
	"github.com/donafarma/dispatch/internal/session"
	"github.com/donafarma/dispatch/internal/store"
)

// ErrConversationNotFound indicates no conversation exists for the identity.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrNotInService indicates the conversation is not bound to an agent.
var ErrNotInService = errors.New("conversation not in service")

// Close reasons recorded on conversation closure.
const (
	CloseReasonAgent       = "agent"
	CloseReasonIdleTimeout = "idle-timeout"
	CloseReasonSystem      = "system"
)

// InboundMessage is one customer message delivered by the transport connector.
// From is the raw transport identifier; the scheduler canonicalizes it.
type InboundMessage struct {
	From       string
	Text       string
	ReceivedAt time.Time
}

// TextSender delivers outbound text to a customer. Failures are logged by the
// scheduler and never retried beyond the explicit fallback paths.
type TextSender interface {
	SendText(ctx context.Context, to identity.ID, text string) error
}

// ConversationSummary is the console-facing view of one conversation.
type ConversationSummary struct {
	ID           identity.ID
	CustomerName string
	Address      string
	DistanceKm   float64
	WithinRadius bool
	Stage        string
	AgentID      string
	Transferred  bool
	FromAgent    string
}

// Notifier receives agent-facing notifications. Implementations must not call
// back into the Scheduler synchronously.
type Notifier interface {
	NewAssignment(agentID string, conv ConversationSummary)
	CustomerMessage(agentID string, conversationID identity.ID, text string)
	ConversationClosed(agentID string, conversationID identity.ID, reason string)
	QueueDepthChanged(depth int)
}

// Scheduler is the single logical dispatcher. Every mutation (inbound
// messages, agent commands, timer firings, lookup results, queue drains)
// funnels through s.mu so assignment decisions never interleave. External
// calls (message delivery, eligibility lookup) run outside the critical
// section and re-enter through the same serialized path.
type Scheduler struct {
	mu sync.Mutex

	cfg      *config.Config
	schedule hours.Schedule
	pool     *pool.Pool
	queue    *queue.Queue
	idle     *idle.Supervisor
	store    store.Store
	sender   TextSender
	lookup   geo.Lookup
	notifier Notifier
	metrics  *metrics.Metrics
	msgs     copywriter

	convs map[identity.ID]*session.Conversation

	now    func() time.Time
	logger *slog.Logger
}

// New wires a Scheduler. notifier and m may be nil; store and sender must not.
func New(
	cfg *config.Config,
	agentPool *pool.Pool,
	st store.Store,
	sender TextSender,
	lookup geo.Lookup,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	schedule := hours.Schedule{
		WeekdayOpen:   cfg.Hours.WeekdayOpen,
		WeekdayClose:  cfg.Hours.WeekdayClose,
		SaturdayOpen:  cfg.Hours.SaturdayOpen,
		SaturdayClose: cfg.Hours.SaturdayClose,
	}

	s := &Scheduler{
		cfg:      cfg,
		schedule: schedule,
		pool:     agentPool,
		queue:    queue.New(logger),
		store:    st,
		sender:   sender,
		lookup:   lookup,
		notifier: notifier,
		metrics:  m,
		msgs:     copywriter{store: cfg.Store, schedule: schedule},
		convs:    make(map[identity.ID]*session.Conversation),
		now:      time.Now,
		logger:   logger.With("component", "dispatch"),
	}

	s.idle = idle.New(cfg.Dispatch.IdleWarn, cfg.Dispatch.IdleClose, cfg.Dispatch.ChoiceDeadline, idle.Hooks{
		Warn:          s.onIdleWarn,
		Close:         s.onIdleClose,
		ChoiceExpired: s.onChoiceExpired,
	}, logger)

	return s
}

// Restore loads persisted dispatch state. Conversations stored as in-service
// cannot be trusted after a restart (agent active sets are empty again), so
// they reset to closed; the customer profile survives and the next contact
// lands on the returning menu.
func (s *Scheduler) Restore(ctx context.Context) error {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range convs {
		stage, ok := session.ParseStage(rec.Stage)
		if !ok {
			s.logger.Warn("resetting conversation with corrupt stage",
				"conversation", rec.ID, "stage", rec.Stage)
			stage = session.StageNew
		}
		if stage.InService() {
			s.logger.Info("closing conversation orphaned by restart", "conversation", rec.ID)
			stage = session.StageClosed
		}
		conv := &session.Conversation{
			ID:             rec.ID,
			Stage:          stage,
			Attempts:       rec.Attempts,
			LastActivityAt: rec.LastActivityAt,
			PendingSince:   rec.PendingSince,
			StartedAt:      rec.StartedAt,
			PendingName:    rec.PendingName,
		}
		s.convs[rec.ID] = conv
	}

	entries, err := s.store.ListQueueEntries(ctx)
	if err != nil {
		return err
	}
	restored := make([]queue.Entry, 0, len(entries))
	for _, e := range entries {
		restored = append(restored, queue.Entry{
			ID:             e.ID,
			ConversationID: e.ConversationID,
			Reason:         queue.Reason(e.Reason),
			Note:           e.Note,
			EnqueuedAt:     e.EnqueuedAt,
		})
	}
	s.queue.Restore(restored)

	s.logger.Info("dispatch state restored",
		"conversations", len(convs),
		"queued", s.queue.Len(),
	)
	return nil
}

// Run drives the background queue staleness sweep until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepQueue(ctx)
		}
	}
}

// SweepQueue drops pending entries older than the configured staleness cutoff.
func (s *Scheduler) SweepQueue(ctx context.Context) {
	s.mu.Lock()
	removed := s.queue.Sweep(s.now().Add(-s.cfg.Dispatch.QueueMaxAge))
	depth := s.queue.Len()
	s.mu.Unlock()

	for _, e := range removed {
		if err := s.store.DeleteQueueEntry(ctx, e.ConversationID); err != nil {
			s.logger.Warn("failed to delete swept queue entry", "conversation", e.ConversationID, "error", err)
		}
	}
	if len(removed) > 0 {
		s.notifyQueueDepth(depth)
	}
}

// QueueDepth returns the current pending backlog size.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// PendingEntries returns the pending backlog in FIFO order.
func (s *Scheduler) PendingEntries() []queue.Entry {
	return s.queue.Snapshot()
}

// Summary returns the console view of one conversation.
func (s *Scheduler) Summary(conversationID identity.ID) (ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return ConversationSummary{}, ErrConversationNotFound
	}
	return s.summaryLocked(conv), nil
}

// ActiveFor returns the conversations currently assigned to an agent.
func (s *Scheduler) ActiveFor(agentID string) []ConversationSummary {
	snap, ok := s.pool.Get(agentID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ConversationSummary, 0, len(snap.Active))
	for _, id := range snap.Active {
		if conv, ok := s.convs[id]; ok {
			out = append(out, s.summaryLocked(conv))
		}
	}
	return out
}

func (s *Scheduler) summaryLocked(conv *session.Conversation) ConversationSummary {
	sum := ConversationSummary{
		ID:      conv.ID,
		Stage:   conv.Stage.String(),
		AgentID: conv.AssignedAgent,
	}
	if p := conv.Profile; p != nil {
		sum.CustomerName = p.Name
		sum.Address = p.AddressSummary
		sum.DistanceKm = p.DistanceKm
		sum.WithinRadius = p.WithinRadius
	}
	return sum
}

// outboundText is one queued customer delivery. agentID attributes transcript
// rows sent on behalf of an agent.
type outboundText struct {
	to      identity.ID
	text    string
	agentID string
}

// lookupRequest captures an eligibility lookup to run outside the lock.
type lookupRequest struct {
	conv identity.ID
	code string
}

// effects accumulates work decided under the lock and applied after release:
// outbound sends, console notifications, async lookups, delayed fallbacks.
type effects struct {
	texts      []outboundText
	notifs     []func(Notifier)
	queueDepth *int
	lookup     *lookupRequest
	fallback   identity.ID
}

func (fx *effects) text(to identity.ID, text string) {
	fx.texts = append(fx.texts, outboundText{to: to, text: text})
}

func (fx *effects) agentText(to identity.ID, agentID, text string) {
	fx.texts = append(fx.texts, outboundText{to: to, text: text, agentID: agentID})
}

func (fx *effects) notify(f func(Notifier)) {
	fx.notifs = append(fx.notifs, f)
}

func (fx *effects) depth(n int) {
	fx.queueDepth = &n
}

// apply performs the collected effects. Runs strictly outside s.mu.
func (s *Scheduler) apply(ctx context.Context, fx *effects) {
	for _, out := range fx.texts {
		if err := s.sender.SendText(ctx, out.to, out.text); err != nil {
			s.logger.Warn("failed to send text", "conversation", out.to, "error", err)
			continue
		}
		sender := store.SenderBot
		if out.agentID != "" {
			sender = store.SenderAgent
		}
		s.appendTranscript(ctx, out.to, sender, out.agentID, out.text)
	}

	if s.notifier != nil {
		for _, f := range fx.notifs {
			f(s.notifier)
		}
		if fx.queueDepth != nil {
			s.notifier.QueueDepthChanged(*fx.queueDepth)
		}
	}
	if fx.queueDepth != nil && s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(*fx.queueDepth))
	}

	if fx.lookup != nil {
		req := *fx.lookup
		go s.runLookup(req)
	}

	if fx.fallback != "" {
		conv := fx.fallback
		time.AfterFunc(s.cfg.Dispatch.FallbackDelay, func() {
			s.fallbackAssign(conv)
		})
	}
}

// runLookup awaits the eligibility lookup outside the critical section and
// re-applies the result through the serialized entry point.
func (s *Scheduler) runLookup(req lookupRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Dispatch.LookupTimeout)
	defer cancel()

	elig, err := s.lookup.Lookup(ctx, req.code)
	s.applyLookupResult(req.conv, req.code, elig, err)
}

func (s *Scheduler) appendTranscript(ctx context.Context, conv identity.ID, sender, agentID, content string) {
	err := s.store.AppendMessage(ctx, &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv,
		Sender:         sender,
		AgentID:        agentID,
		Content:        content,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to append transcript", "conversation", conv, "error", err)
	}
}

// persist writes a conversation's dispatch state, best effort.
func (s *Scheduler) persist(conv *session.Conversation) {
	rec := &store.Conversation{
		ID:             conv.ID,
		Stage:          conv.Stage.String(),
		Attempts:       conv.Attempts,
		AssignedAgent:  conv.AssignedAgent,
		LastActivityAt: conv.LastActivityAt,
		PendingSince:   conv.PendingSince,
		StartedAt:      conv.StartedAt,
		PendingName:    conv.PendingName,
	}
	if err := s.store.SaveConversation(context.Background(), rec); err != nil {
		s.logger.Warn("failed to persist conversation", "conversation", conv.ID, "error", err)
	}
}

func (s *Scheduler) notifyQueueDepth(depth int) {
	if s.notifier != nil {
		s.notifier.QueueDepthChanged(depth)
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(depth))
	}
}

// today returns the day bucket used for agent served counters.
func (s *Scheduler) today() string {
	return s.now().Format("2006-01-02")
}
