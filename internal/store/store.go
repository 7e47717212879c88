// ABOUTME: Store interface and data types for dispatch persistence.
// ABOUTME: Conversations, customer profiles, queue entries, transcript, notes, day counters.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/donafarma/dispatch/internal/identity"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is the persisted dispatch state of one customer conversation.
type Conversation struct {
	ID             identity.ID
	Stage          string
	Attempts       int
	AssignedAgent  string
	LastActivityAt time.Time
	PendingSince   *time.Time
	StartedAt      time.Time
	PendingName    string
	UpdatedAt      time.Time
}

// Customer is the registered profile collected during intake.
type Customer struct {
	ID             identity.ID
	Name           string
	LocationCode   string
	AddressSummary string
	DistanceKm     float64
	WithinRadius   bool
	RegisteredAt   time.Time
}

// QueueEntry is one persisted row of the pending backlog.
type QueueEntry struct {
	ID             string
	ConversationID identity.ID
	Reason         string
	Note           string
	EnqueuedAt     time.Time
}

// Sender constants for transcript messages.
const (
	SenderCustomer = "customer"
	SenderBot      = "bot"
	SenderAgent    = "agent"
)

// Message is one transcript row. AgentID is set only for SenderAgent rows.
type Message struct {
	ID             string
	ConversationID identity.ID
	Sender         string
	AgentID        string
	Content        string
	CreatedAt      time.Time
}

// Note is a free-text annotation an agent attached to a customer.
type Note struct {
	ID             string
	ConversationID identity.ID
	AgentID        string
	Content        string
	CreatedAt      time.Time
}

// Store is the persistence contract the dispatcher and console rely on.
type Store interface {
	SaveConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id identity.ID) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)

	SaveCustomer(ctx context.Context, cust *Customer) error
	GetCustomer(ctx context.Context, id identity.ID) (*Customer, error)

	SaveQueueEntry(ctx context.Context, entry *QueueEntry) error
	DeleteQueueEntry(ctx context.Context, conversationID identity.ID) error
	ListQueueEntries(ctx context.Context) ([]*QueueEntry, error)

	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID identity.ID, limit int) ([]*Message, error)

	AddNote(ctx context.Context, note *Note) error
	ListNotes(ctx context.Context, conversationID identity.ID) ([]*Note, error)

	IncrementServed(ctx context.Context, agentID string, day string) error
	GetServed(ctx context.Context, agentID string, day string) (int, error)

	Close() error
}
