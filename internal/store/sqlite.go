// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides dispatch persistence with automatic schema creation and WAL mode.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/donafarma/dispatch/internal/identity"

	_ "modernc.org/sqlite"
)

// transcriptCap is the number of transcript rows kept per conversation.
const transcriptCap = 100

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			assigned_agent TEXT NOT NULL DEFAULT '',
			last_activity_at DATETIME NOT NULL,
			pending_since DATETIME,
			started_at DATETIME,
			pending_name TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location_code TEXT NOT NULL,
			address_summary TEXT NOT NULL,
			distance_km REAL NOT NULL,
			within_radius INTEGER NOT NULL,
			registered_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			reason TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			enqueued_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_queue_enqueued
			ON queue_entries(enqueued_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_conversation
			ON notes(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS agent_days (
			agent_id TEXT NOT NULL,
			day TEXT NOT NULL,
			served INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, day)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveConversation upserts a conversation's dispatch state.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, stage, attempts, assigned_agent, last_activity_at, pending_since, started_at, pending_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			attempts = excluded.attempts,
			assigned_agent = excluded.assigned_agent,
			last_activity_at = excluded.last_activity_at,
			pending_since = excluded.pending_since,
			started_at = excluded.started_at,
			pending_name = excluded.pending_name,
			updated_at = excluded.updated_at
	`, string(conv.ID), conv.Stage, conv.Attempts, conv.AssignedAgent,
		conv.LastActivityAt, conv.PendingSince, conv.StartedAt, conv.PendingName, time.Now())
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// GetConversation fetches one conversation, or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id identity.ID) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stage, attempts, assigned_agent, last_activity_at, pending_since, started_at, pending_name, updated_at
		FROM conversations WHERE id = ?
	`, string(id))

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns every stored conversation.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, attempts, assigned_agent, last_activity_at, pending_since, started_at, pending_name, updated_at
		FROM conversations
	`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*Conversation, error) {
	var (
		conv         Conversation
		id           string
		pendingSince sql.NullTime
		startedAt    sql.NullTime
	)
	err := sc.Scan(&id, &conv.Stage, &conv.Attempts, &conv.AssignedAgent,
		&conv.LastActivityAt, &pendingSince, &startedAt, &conv.PendingName, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conv.ID = identity.ID(id)
	if pendingSince.Valid {
		t := pendingSince.Time
		conv.PendingSince = &t
	}
	if startedAt.Valid {
		conv.StartedAt = startedAt.Time
	}
	return &conv, nil
}

// SaveCustomer upserts a customer profile.
func (s *SQLiteStore) SaveCustomer(ctx context.Context, cust *Customer) error {
	within := 0
	if cust.WithinRadius {
		within = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, location_code, address_summary, distance_km, within_radius, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location_code = excluded.location_code,
			address_summary = excluded.address_summary,
			distance_km = excluded.distance_km,
			within_radius = excluded.within_radius
	`, string(cust.ID), cust.Name, cust.LocationCode, cust.AddressSummary,
		cust.DistanceKm, within, cust.RegisteredAt)
	if err != nil {
		return fmt.Errorf("saving customer: %w", err)
	}
	return nil
}

// GetCustomer fetches one customer profile, or ErrNotFound.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id identity.ID) (*Customer, error) {
	var (
		cust   Customer
		rawID  string
		within int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location_code, address_summary, distance_km, within_radius, registered_at
		FROM customers WHERE id = ?
	`, string(id)).Scan(&rawID, &cust.Name, &cust.LocationCode, &cust.AddressSummary,
		&cust.DistanceKm, &within, &cust.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting customer: %w", err)
	}
	cust.ID = identity.ID(rawID)
	cust.WithinRadius = within != 0
	return &cust, nil
}

// SaveQueueEntry upserts one pending-queue row, keyed by conversation.
func (s *SQLiteStore) SaveQueueEntry(ctx context.Context, entry *QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, conversation_id, reason, note, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO NOTHING
	`, entry.ID, string(entry.ConversationID), entry.Reason, entry.Note, entry.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("saving queue entry: %w", err)
	}
	return nil
}

// DeleteQueueEntry removes the pending row for a conversation, if any.
func (s *SQLiteStore) DeleteQueueEntry(ctx context.Context, conversationID identity.ID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE conversation_id = ?`, string(conversationID))
	if err != nil {
		return fmt.Errorf("deleting queue entry: %w", err)
	}
	return nil
}

// ListQueueEntries returns the backlog in enqueue order.
func (s *SQLiteStore) ListQueueEntries(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, reason, note, enqueued_at
		FROM queue_entries ORDER BY enqueued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing queue entries: %w", err)
	}
	defer rows.Close()

	var out []*QueueEntry
	for rows.Next() {
		var (
			e  QueueEntry
			id string
		)
		if err := rows.Scan(&e.ID, &id, &e.Reason, &e.Note, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		e.ConversationID = identity.ID(id)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendMessage stores one transcript row and trims the conversation to the
// most recent transcriptCap rows.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, agent_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.ConversationID), msg.Sender, msg.AgentID, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = ?
		AND id NOT IN (
			SELECT id FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, string(msg.ConversationID), string(msg.ConversationID), transcriptCap)
	if err != nil {
		return fmt.Errorf("trimming transcript: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns up to limit transcript rows, oldest first.
// A limit of 0 means the full retained transcript.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID identity.ID, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = transcriptCap
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, agent_id, content, created_at FROM (
			SELECT id, conversation_id, sender, agent_id, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, string(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m  Message
			id string
		)
		if err := rows.Scan(&m.ID, &id, &m.Sender, &m.AgentID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.ConversationID = identity.ID(id)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// AddNote stores a customer note.
func (s *SQLiteStore) AddNote(ctx context.Context, note *Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, conversation_id, agent_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, note.ID, string(note.ConversationID), note.AgentID, note.Content, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("adding note: %w", err)
	}
	return nil
}

// ListNotes returns a customer's notes, oldest first.
func (s *SQLiteStore) ListNotes(ctx context.Context, conversationID identity.ID) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, agent_id, content, created_at
		FROM notes WHERE conversation_id = ? ORDER BY created_at
	`, string(conversationID))
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var (
			n  Note
			id string
		)
		if err := rows.Scan(&n.ID, &id, &n.AgentID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.ConversationID = identity.ID(id)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// IncrementServed bumps an agent's completed-today counter for the given day.
func (s *SQLiteStore) IncrementServed(ctx context.Context, agentID string, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_days (agent_id, day, served) VALUES (?, ?, 1)
		ON CONFLICT(agent_id, day) DO UPDATE SET served = served + 1
	`, agentID, day)
	if err != nil {
		return fmt.Errorf("incrementing served counter: %w", err)
	}
	return nil
}

// GetServed reads an agent's counter for the given day; missing rows are zero.
func (s *SQLiteStore) GetServed(ctx context.Context, agentID string, day string) (int, error) {
	var served int
	err := s.db.QueryRowContext(ctx,
		`SELECT served FROM agent_days WHERE agent_id = ? AND day = ?`, agentID, day).Scan(&served)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting served counter: %w", err)
	}
	return served, nil
}
