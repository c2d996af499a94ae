package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/luocen99/opsconsole/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS command_plans (
			command_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			intent TEXT,
			action TEXT NOT NULL,
			params TEXT,
			risk TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			missing TEXT,
			approval_token TEXT,
			ticket_id TEXT,
			trace_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			executed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS command_history (
			command_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			intent TEXT,
			risk TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (command_id) REFERENCES command_plans(command_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON command_history(created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			event_id TEXT PRIMARY KEY,
			command_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_command ON audit_events(command_id, ts)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			ticket_id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			params TEXT,
			risk TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			decided_at DATETIME,
			decided_by TEXT,
			reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status_expires ON approvals(status, expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetConversation retrieves a conversation snapshot by session ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var messages string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, messages, created_at, updated_at FROM conversations WHERE session_id = ?`,
		sessionID).Scan(&conv.SessionID, &messages, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return &conv, nil
}

// SaveConversation upserts a conversation snapshot.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, messages, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		conv.SessionID, string(messages), conv.CreatedAt, conv.UpdatedAt)
	return err
}

// CreatePlan persists one preview result.
func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *domain.CommandPlan) error {
	missing, _ := json.Marshal(plan.Missing)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_plans (command_id, command, intent, action, params, risk, mode, status, missing, approval_token, ticket_id, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.CommandID, plan.Command, plan.Intent, plan.Action, string(plan.Params), string(plan.Risk), string(plan.Mode),
		string(plan.Status), string(missing), plan.ApprovalToken, plan.TicketID, plan.TraceID, plan.CreatedAt)
	return err
}

// GetPlan retrieves a plan by command ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, commandID string) (*domain.CommandPlan, error) {
	var plan domain.CommandPlan
	var params, missing, approvalToken, ticketID, traceID, intent sql.NullString
	var executedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT command_id, command, intent, action, params, risk, mode, status, missing, approval_token, ticket_id, trace_id, created_at, executed_at
		 FROM command_plans WHERE command_id = ?`, commandID).
		Scan(&plan.CommandID, &plan.Command, &intent, &plan.Action, &params, &plan.Risk, &plan.Mode, &plan.Status,
			&missing, &approvalToken, &ticketID, &traceID, &plan.CreatedAt, &executedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plan.Intent = intent.String
	plan.ApprovalToken = approvalToken.String
	plan.TicketID = ticketID.String
	plan.TraceID = traceID.String
	if params.Valid && params.String != "" {
		plan.Params = json.RawMessage(params.String)
	}
	if missing.Valid && missing.String != "" {
		if err := json.Unmarshal([]byte(missing.String), &plan.Missing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing params: %w", err)
		}
	}
	if executedAt.Valid {
		plan.ExecutedAt = &executedAt.Time
	}
	return &plan, nil
}

// GetPlanByTicket retrieves the plan whose preview minted the given ticket.
func (s *SQLiteStore) GetPlanByTicket(ctx context.Context, ticketID string) (*domain.CommandPlan, error) {
	var commandID string
	err := s.db.QueryRowContext(ctx,
		`SELECT command_id FROM command_plans WHERE ticket_id = ?`, ticketID).Scan(&commandID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetPlan(ctx, commandID)
}

// MarkPlanExecuted flips a plan to its executed status. Returns false if the
// plan was already executed; this is the exactly-once boundary for execute.
func (s *SQLiteStore) MarkPlanExecuted(ctx context.Context, commandID string, status domain.CommandStatus, executedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE command_plans SET status = ?, executed_at = ? WHERE command_id = ? AND executed_at IS NULL`,
		string(status), executedAt, commandID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetPlanStatus updates a plan's status unconditionally. Used to correct the
// optimistic status after the claimed execution finishes.
func (s *SQLiteStore) SetPlanStatus(ctx context.Context, commandID string, status domain.CommandStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE command_plans SET status = ? WHERE command_id = ?`, string(status), commandID)
	return err
}

// AppendHistory appends one immutable audit record.
func (s *SQLiteStore) AppendHistory(ctx context.Context, item *domain.CommandHistoryItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history (command_id, command, intent, risk, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.CommandID, item.Command, item.Intent, string(item.Risk), string(item.Status), item.CreatedAt)
	return err
}

// ListHistory retrieves the most recent history records.
func (s *SQLiteStore) ListHistory(ctx context.Context, limit int) ([]domain.CommandHistoryItem, error) {
	query := `SELECT command_id, command, intent, risk, status, created_at FROM command_history ORDER BY created_at DESC, command_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CommandHistoryItem
	for rows.Next() {
		var item domain.CommandHistoryItem
		var intent sql.NullString
		if err := rows.Scan(&item.CommandID, &item.Command, &intent, &item.Risk, &item.Status, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Intent = intent.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetHistory retrieves one history record by command ID.
func (s *SQLiteStore) GetHistory(ctx context.Context, commandID string) (*domain.CommandHistoryItem, error) {
	var item domain.CommandHistoryItem
	var intent sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT command_id, command, intent, risk, status, created_at FROM command_history WHERE command_id = ?`,
		commandID).Scan(&item.CommandID, &item.Command, &intent, &item.Risk, &item.Status, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Intent = intent.String
	return &item, nil
}

// CreateAuditEvent records one lifecycle event.
func (s *SQLiteStore) CreateAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, command_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.CommandID, event.Ts, string(event.Type), string(event.Payload))
	return err
}

// GetAuditEvents retrieves a command's events in arrival order.
func (s *SQLiteStore) GetAuditEvents(ctx context.Context, commandID string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT event_id, command_id, ts, type, payload FROM audit_events WHERE command_id = ? ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.CommandID, &ev.Ts, &ev.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateTicket persists a new approval ticket.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *domain.ApprovalTicket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (ticket_id, tool, params, risk, mode, status, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.TicketID, ticket.Tool, string(ticket.Params), string(ticket.Risk), string(ticket.Mode),
		string(ticket.Status), ticket.CreatedAt, ticket.ExpiresAt)
	return err
}

// GetTicket retrieves a ticket by ID.
func (s *SQLiteStore) GetTicket(ctx context.Context, ticketID string) (*domain.ApprovalTicket, error) {
	var ticket domain.ApprovalTicket
	var params, decidedBy, reason sql.NullString
	var decidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, tool, params, risk, mode, status, created_at, expires_at, decided_at, decided_by, reason
		 FROM approvals WHERE ticket_id = ?`, ticketID).
		Scan(&ticket.TicketID, &ticket.Tool, &params, &ticket.Risk, &ticket.Mode, &ticket.Status,
			&ticket.CreatedAt, &ticket.ExpiresAt, &decidedAt, &decidedBy, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if params.Valid && params.String != "" {
		ticket.Params = json.RawMessage(params.String)
	}
	if decidedAt.Valid {
		ticket.DecidedAt = &decidedAt.Time
	}
	ticket.DecidedBy = decidedBy.String
	ticket.Reason = reason.String
	return &ticket, nil
}

// DecideTicketIfPending transitions a pending ticket to approved/rejected.
// Returns false if the ticket already left pending; a ticket transitions
// status at most once.
func (s *SQLiteStore) DecideTicketIfPending(ctx context.Context, ticketID string, status domain.TicketStatus, decidedBy, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?, reason = ? WHERE ticket_id = ? AND status = 'pending'`,
		string(status), time.Now(), decidedBy, reason, ticketID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExpiredTickets returns pending tickets past their deadline.
func (s *SQLiteStore) ListExpiredTickets(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalTicket, error) {
	query := `SELECT ticket_id, tool, params, risk, mode, status, created_at, expires_at FROM approvals
		 WHERE status = 'pending' AND expires_at < ? ORDER BY expires_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.ApprovalTicket
	for rows.Next() {
		var ticket domain.ApprovalTicket
		var params sql.NullString
		if err := rows.Scan(&ticket.TicketID, &ticket.Tool, &params, &ticket.Risk, &ticket.Mode,
			&ticket.Status, &ticket.CreatedAt, &ticket.ExpiresAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			ticket.Params = json.RawMessage(params.String)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// ExpireTicketIfPending marks a pending ticket expired.
func (s *SQLiteStore) ExpireTicketIfPending(ctx context.Context, ticketID string, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = 'expired', decided_at = ?, reason = ? WHERE ticket_id = ? AND status = 'pending'`,
		time.Now(), reason, ticketID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
