package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// protocolAttempts bounds the regenerate-and-retry loop when a freshly
// generated protocol collides with an existing row.
const protocolAttempts = 5

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}
	// Concurrent openTicket calls contend on the single writer; wait for
	// the lock instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			external_id TEXT PRIMARY KEY,
			email       TEXT NOT NULL DEFAULT '',
			name        TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS tickets (
			protocol    TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(external_id),
			department  TEXT NOT NULL,
			subject     TEXT NOT NULL,
			description TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL DEFAULT 'open',
			opened_at   TEXT NOT NULL,
			closed_at   TEXT
		);

		CREATE TABLE IF NOT EXISTS ticket_replies (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			protocol    TEXT NOT NULL REFERENCES tickets(protocol),
			body        TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			sent_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_replies_protocol ON ticket_replies(protocol);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertUser(externalID, email, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (external_id, email, name) VALUES (?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			name  = CASE WHEN excluded.name  != '' THEN excluded.name  ELSE users.name  END
	`, externalID, email, name)
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(externalID string) (*protocol.User, error) {
	var u protocol.User
	err := s.db.QueryRow(`SELECT external_id, email, name FROM users WHERE external_id = ?`, externalID).
		Scan(&u.ExternalID, &u.Email, &u.Name)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) OpenTicket(externalID, department, subject, description string, attachments []protocol.Attachment) (*protocol.Ticket, error) {
	if _, err := s.GetUser(externalID); err != nil {
		return nil, err
	}

	if attachments == nil {
		attachments = []protocol.Attachment{}
	}
	attachJSON, _ := json.Marshal(attachments)
	openedAt := time.Now()

	// The protocol column's uniqueness constraint is the backstop: on a
	// same-instant collision we regenerate and retry instead of surfacing
	// the conflict to the caller.
	var lastErr error
	for i := 0; i < protocolAttempts; i++ {
		proto := newProtocol()
		_, err := s.db.Exec(`
			INSERT INTO tickets (protocol, user_id, department, subject, description, attachments, status, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, proto, externalID, department, subject, description, string(attachJSON),
			string(protocol.TicketOpen), openedAt.Format(time.RFC3339))
		if err == nil {
			return &protocol.Ticket{
				Protocol:    proto,
				UserID:      externalID,
				Department:  department,
				Subject:     subject,
				Description: description,
				Attachments: attachments,
				Status:      protocol.TicketOpen,
				OpenedAt:    openedAt,
			}, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("store: open ticket: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("store: open ticket: protocol collisions exhausted: %w", lastErr)
}

func (s *SQLiteStore) ListOpenTickets(externalID string) ([]*protocol.Ticket, error) {
	rows, err := s.db.Query(`
		SELECT protocol, user_id, department, subject, description, attachments, status, opened_at, closed_at
		FROM tickets
		WHERE user_id = ? AND status != ?
		ORDER BY opened_at DESC
	`, externalID, string(protocol.TicketClosed))
	if err != nil {
		return nil, fmt.Errorf("store: list open tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) ListTickets(filter Filter) ([]*protocol.Ticket, error) {
	query := `
		SELECT protocol, user_id, department, subject, description, attachments, status, opened_at, closed_at
		FROM tickets
		WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.ExternalID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.ExternalID)
	}
	query += " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) GetTicket(proto string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`
		SELECT protocol, user_id, department, subject, description, attachments, status, opened_at, closed_at
		FROM tickets WHERE protocol = ?
	`, proto)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ticket: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) CloseTicket(proto string) error {
	now := time.Now().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE tickets SET status = ?, closed_at = ?
		WHERE protocol = ? AND status != ?
	`, string(protocol.TicketClosed), now, proto, string(protocol.TicketClosed))
	if err != nil {
		return fmt.Errorf("store: close ticket: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	// No row changed: either the ticket is already closed (re-closing is
	// fine, closed_at keeps its first-set value) or the protocol is unknown.
	var status string
	err = s.db.QueryRow(`SELECT status FROM tickets WHERE protocol = ?`, proto).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("store: close ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendReply(reply protocol.Reply) error {
	if _, err := s.GetTicket(reply.Protocol); err != nil {
		return err
	}
	attachments := reply.Attachments
	if attachments == nil {
		attachments = []protocol.Attachment{}
	}
	attachJSON, _ := json.Marshal(attachments)
	_, err := s.db.Exec(`
		INSERT INTO ticket_replies (protocol, body, attachments, sent_at) VALUES (?, ?, ?, ?)
	`, reply.Protocol, reply.Body, string(attachJSON), reply.SentAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: append reply: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

// newProtocol generates a short human-readable ticket identifier: the CAR
// prefix, the last six digits of the unix clock, and a random suffix so two
// tickets opened in the same second still diverge.
func newProtocol() string {
	var b [2]byte
	rand.Read(b[:])
	suffix := binary.BigEndian.Uint16(b[:]) % 1000
	return fmt.Sprintf("CAR%06d%03d", time.Now().Unix()%1000000, suffix)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var attachJSON, status, openedAtStr string
	var closedAtStr *string

	err := row.Scan(&t.Protocol, &t.UserID, &t.Department, &t.Subject, &t.Description,
		&attachJSON, &status, &openedAtStr, &closedAtStr)
	if err != nil {
		return nil, err
	}

	t.Status = protocol.TicketStatus(status)
	json.Unmarshal([]byte(attachJSON), &t.Attachments)
	if t.Attachments == nil {
		t.Attachments = []protocol.Attachment{}
	}
	t.OpenedAt, _ = time.Parse(time.RFC3339, openedAtStr)
	if closedAtStr != nil {
		ct, _ := time.Parse(time.RFC3339, *closedAtStr)
		t.ClosedAt = &ct
	}
	return &t, nil
}
