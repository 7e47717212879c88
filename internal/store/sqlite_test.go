// ABOUTME: Tests for the SQLite store: conversations, customers, queue, transcript, notes.
// ABOUTME: Uses a temp-dir database per test; verifies upserts, trims, and counters.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversation_SaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := time.Now().Truncate(time.Second)
	conv := &Conversation{
		ID:             "21999887766",
		Stage:          "choosing_agent",
		Attempts:       2,
		AssignedAgent:  "",
		LastActivityAt: time.Now().Truncate(time.Second),
		PendingSince:   &pending,
		PendingName:    "João",
	}
	require.NoError(t, s.SaveConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "21999887766")
	require.NoError(t, err)
	assert.Equal(t, conv.Stage, got.Stage)
	assert.Equal(t, conv.Attempts, got.Attempts)
	assert.Equal(t, conv.PendingName, got.PendingName)
	require.NotNil(t, got.PendingSince)
	assert.WithinDuration(t, pending, *got.PendingSince, time.Second)
}

func TestConversation_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "c1", Stage: "new", LastActivityAt: time.Now()}
	require.NoError(t, s.SaveConversation(ctx, conv))

	conv.Stage = "in_service"
	conv.AssignedAgent = "andrea"
	conv.PendingSince = nil
	require.NoError(t, s.SaveConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "in_service", got.Stage)
	assert.Equal(t, "andrea", got.AssignedAgent)
	assert.Nil(t, got.PendingSince)
}

func TestConversation_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, &Conversation{ID: "a", Stage: "new", LastActivityAt: time.Now()}))
	require.NoError(t, s.SaveConversation(ctx, &Conversation{ID: "b", Stage: "closed", LastActivityAt: time.Now()}))

	all, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCustomer_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cust := &Customer{
		ID:             "21999887766",
		Name:           "João Silva",
		LocationCode:   "21810025",
		AddressSummary: "Bangu, Rio de Janeiro - RJ",
		DistanceKm:     2.4,
		WithinRadius:   true,
		RegisteredAt:   time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveCustomer(ctx, cust))

	got, err := s.GetCustomer(ctx, "21999887766")
	require.NoError(t, err)
	assert.Equal(t, cust.Name, got.Name)
	assert.Equal(t, cust.LocationCode, got.LocationCode)
	assert.True(t, got.WithinRadius)
	assert.InDelta(t, 2.4, got.DistanceKm, 0.001)

	_, err = s.GetCustomer(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.SaveQueueEntry(ctx, &QueueEntry{
		ID: uuid.New().String(), ConversationID: "a", Reason: "no-capacity", EnqueuedAt: now,
	}))
	require.NoError(t, s.SaveQueueEntry(ctx, &QueueEntry{
		ID: uuid.New().String(), ConversationID: "b", Reason: "outside-hours", EnqueuedAt: now.Add(time.Second),
	}))

	// Duplicate conversation is ignored, preserving the original entry.
	require.NoError(t, s.SaveQueueEntry(ctx, &QueueEntry{
		ID: uuid.New().String(), ConversationID: "a", Reason: "outside-hours", EnqueuedAt: now.Add(time.Minute),
	}))

	entries, err := s.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", string(entries[0].ConversationID))
	assert.Equal(t, "no-capacity", entries[0].Reason)

	require.NoError(t, s.DeleteQueueEntry(ctx, "a"))
	entries, err = s.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", string(entries[0].ConversationID))
}

func TestAppendMessage_TrimsTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 110; i++ {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ID:             fmt.Sprintf("m-%03d", i),
			ConversationID: "c1",
			Sender:         SenderCustomer,
			Content:        fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	// Oldest retained row is message 10; order is oldest first.
	assert.Equal(t, "msg 10", msgs[0].Content)
	assert.Equal(t, "msg 109", msgs[99].Content)
}

func TestListMessages_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ID:             fmt.Sprintf("m-%d", i),
			ConversationID: "c1",
			Sender:         SenderBot,
			Content:        fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[1].Content)
}

func TestNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddNote(ctx, &Note{
		ID: uuid.New().String(), ConversationID: "c1", AgentID: "andrea",
		Content: "prefere entrega à tarde", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.AddNote(ctx, &Note{
		ID: uuid.New().String(), ConversationID: "c1", AgentID: "cassiano",
		Content: "receita vence em março", CreatedAt: time.Now().Add(time.Second),
	}))

	notes, err := s.ListNotes(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "andrea", notes[0].AgentID)

	notes, err = s.ListNotes(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestServedCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.GetServed(ctx, "andrea", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.IncrementServed(ctx, "andrea", "2024-01-02"))
	require.NoError(t, s.IncrementServed(ctx, "andrea", "2024-01-02"))
	require.NoError(t, s.IncrementServed(ctx, "andrea", "2024-01-03"))

	n, err = s.GetServed(ctx, "andrea", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.GetServed(ctx, "andrea", "2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
