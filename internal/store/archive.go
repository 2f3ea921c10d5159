// ABOUTME: SQLite archive of desk state using modernc.org/sqlite.
// ABOUTME: Append-friendly tables keyed by id; messages clustered by conversation and sent_at.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/msglog"
	"github.com/2389/coven-desk/internal/registry"
	"github.com/2389/coven-desk/internal/routing"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// SQLiteArchive is the write-behind archive of conversations, messages,
// agents, and transfer records. The in-memory stores stay authoritative;
// the archive gives operators best-effort history across restarts.
type SQLiteArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteArchive opens (or creates) the archive at the given path.
// Parent directories are created if needed.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	logger := slog.Default().With("component", "archive")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	a := &SQLiteArchive{db: db, logger: logger}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("archive initialized", "path", path)
	return a, nil
}

func (a *SQLiteArchive) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			status TEXT NOT NULL,
			handler_kind TEXT NOT NULL,
			handler_agent_id TEXT,
			unread_count INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_kind TEXT NOT NULL,
			sender_agent_id TEXT,
			body TEXT NOT NULL,
			sent_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
			ON messages(conversation_id, sent_at);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			availability TEXT NOT NULL,
			active_chats INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transfers (
			audit_message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			from_handler TEXT NOT NULL,
			to_agent_id TEXT NOT NULL,
			priority TEXT NOT NULL,
			note TEXT,
			transferred_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_conversation
			ON transfers(conversation_id, transferred_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveConversation upserts the conversation snapshot.
func (a *SQLiteArchive) SaveConversation(ctx context.Context, conv registry.Conversation) error {
	query := `
		INSERT INTO conversations (id, customer_id, customer_name, status, handler_kind, handler_agent_id, unread_count, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			handler_kind = excluded.handler_kind,
			handler_agent_id = excluded.handler_agent_id,
			unread_count = excluded.unread_count,
			last_activity_at = excluded.last_activity_at
	`
	_, err := a.db.ExecContext(ctx, query,
		conv.ID, conv.Customer.ID, conv.Customer.Name, string(conv.Status),
		string(conv.Handler.Kind), nullable(conv.Handler.AgentID),
		conv.UnreadCount, conv.CreatedAt, conv.LastActivityAt)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	return nil
}

// SaveMessage inserts the message. Messages are immutable, so replays are
// ignored rather than updated.
func (a *SQLiteArchive) SaveMessage(ctx context.Context, msg msglog.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (id, conversation_id, sender_kind, sender_agent_id, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := a.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, string(msg.Sender.Kind),
		nullable(msg.Sender.AgentID), msg.Body, msg.SentAt)
	if err != nil {
		return fmt.Errorf("archiving message: %w", err)
	}
	return nil
}

// SaveAgent upserts the agent snapshot. Credential hashes never reach the
// archive.
func (a *SQLiteArchive) SaveAgent(ctx context.Context, agent directory.Agent) error {
	query := `
		INSERT INTO agents (id, name, role, availability, active_chats)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			availability = excluded.availability,
			active_chats = excluded.active_chats
	`
	_, err := a.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Role, string(agent.Availability), agent.ActiveChats)
	if err != nil {
		return fmt.Errorf("archiving agent: %w", err)
	}
	return nil
}

// SaveTransfer inserts the immutable transfer record.
func (a *SQLiteArchive) SaveTransfer(ctx context.Context, rec routing.TransferRecord) error {
	query := `
		INSERT OR IGNORE INTO transfers (audit_message_id, conversation_id, from_handler, to_agent_id, priority, note, transferred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := a.db.ExecContext(ctx, query,
		rec.AuditMessageID, rec.ConversationID, rec.From.String(), rec.To,
		string(rec.Priority), nullable(rec.Note), rec.At)
	if err != nil {
		return fmt.Errorf("archiving transfer: %w", err)
	}
	return nil
}

// ConversationHistory returns up to limit archived messages for the
// conversation, oldest first.
func (a *SQLiteArchive) ConversationHistory(ctx context.Context, conversationID string, limit int) ([]msglog.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, sender_kind, sender_agent_id, body, sent_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY sent_at DESC LIMIT ?
		) ORDER BY sent_at ASC
	`
	rows, err := a.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []msglog.Message
	for rows.Next() {
		var msg msglog.Message
		var kind string
		var agentID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &kind, &agentID, &msg.Body, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Sender = msglog.Sender{Kind: msglog.SenderKind(kind), AgentID: agentID.String}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// GetConversation returns the archived conversation snapshot.
func (a *SQLiteArchive) GetConversation(ctx context.Context, conversationID string) (registry.Conversation, error) {
	query := `
		SELECT id, customer_id, customer_name, status, handler_kind, handler_agent_id, unread_count, created_at, last_activity_at
		FROM conversations WHERE id = ?
	`
	var conv registry.Conversation
	var status, handlerKind string
	var agentID sql.NullString
	err := a.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.Customer.ID, &conv.Customer.Name, &status,
		&handlerKind, &agentID, &conv.UnreadCount, &conv.CreatedAt, &conv.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Conversation{}, ErrNotFound
	}
	if err != nil {
		return registry.Conversation{}, fmt.Errorf("querying conversation: %w", err)
	}
	conv.Status = registry.Status(status)
	conv.Handler = registry.Handler{Kind: registry.HandlerKind(handlerKind), AgentID: agentID.String}
	return conv, nil
}

// TransfersForConversation returns the conversation's archived transfer
// records, oldest first.
func (a *SQLiteArchive) TransfersForConversation(ctx context.Context, conversationID string) ([]routing.TransferRecord, error) {
	query := `
		SELECT audit_message_id, conversation_id, from_handler, to_agent_id, priority, note, transferred_at
		FROM transfers WHERE conversation_id = ? ORDER BY transferred_at ASC
	`
	rows, err := a.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}
	defer rows.Close()

	var out []routing.TransferRecord
	for rows.Next() {
		var rec routing.TransferRecord
		var from string
		var note sql.NullString
		var at time.Time
		if err := rows.Scan(&rec.AuditMessageID, &rec.ConversationID, &from, &rec.To, &rec.Priority, &note, &at); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		rec.From = parseHandler(from)
		rec.Note = note.String
		rec.At = at
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseHandler(s string) registry.Handler {
	const agentPrefix = "agent:"
	if len(s) > len(agentPrefix) && s[:len(agentPrefix)] == agentPrefix {
		return registry.AgentHandler(s[len(agentPrefix):])
	}
	return registry.Handler{Kind: registry.HandlerKind(s)}
}
