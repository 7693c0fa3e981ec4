package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/driver"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// recordTimeout bounds one insert issued from the event dispatcher.
	recordTimeout = 5 * time.Second

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrInvalidEvent is returned for events without a kind.
var ErrInvalidEvent = errors.New("journal: event kind is required")

// Logger defines the logging interface for the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is one stored transition.
type Entry struct {
	ID          int64                      `json:"id"`
	Seq         uint64                     `json:"seq"`
	Kind        connection.EventKind       `json:"kind"`
	Identity    driver.Identity            `json:"device_serial,omitempty"`
	Session     string                     `json:"session_id,omitempty"`
	Attempt     int                        `json:"attempt,omitempty"`
	Detail      string                     `json:"detail,omitempty"`
	Connected   bool                       `json:"connected"`
	IsRebooting bool                       `json:"is_rebooting"`
	Supervisor  connection.SupervisorState `json:"supervisor"`
	OccurredAt  time.Time                  `json:"occurred_at"`
}

// Query selects entries for List.
type Query struct {
	// Identity restricts results to one device. Empty means all devices.
	Identity driver.Identity

	// Limit is the maximum number of entries (default 50, max 200).
	Limit int
}

// Repository stores connection events in SQLite.
type Repository struct {
	db     *sql.DB
	logger Logger
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB, logger Logger) *Repository {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Repository{db: db, logger: logger}
}

// Record inserts one event.
func (r *Repository) Record(ctx context.Context, e connection.Event) error {
	if e.Kind == "" {
		return ErrInvalidEvent
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events
		   (seq, kind, device_serial, session_id, attempt, detail,
		    connected, is_rebooting, supervisor, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
		string(e.Kind),
		string(e.Identity),
		e.Session,
		e.Attempt,
		e.Detail,
		e.Status.Connected,
		e.Status.IsRebooting,
		string(e.Status.Supervisor),
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// HandleEvent records e, logging instead of returning failures.
// It implements connection.Sink.
func (r *Repository) HandleEvent(e connection.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.Record(ctx, e); err != nil {
		r.logger.Error("failed to record connection event", "kind", e.Kind, "seq", e.Seq, "error", err)
	}
}

// List returns recent entries, newest first.
func (r *Repository) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, seq, kind, device_serial, session_id, attempt, detail,
	                 connected, is_rebooting, supervisor, occurred_at
	          FROM connection_events`
	args := make([]any, 0, 2)
	if q.Identity != "" {
		query += ` WHERE device_serial = ?`
		args = append(args, string(q.Identity))
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry      Entry
			seq        int64
			kind       string
			serial     string
			supervisor string
			occurredAt string
		)
		if err := rows.Scan(&entry.ID, &seq, &kind, &serial, &entry.Session, &entry.Attempt,
			&entry.Detail, &entry.Connected, &entry.IsRebooting, &supervisor, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		entry.Seq = uint64(seq) //nolint:gosec // stored from a uint64
		entry.Kind = connection.EventKind(kind)
		entry.Identity = driver.Identity(serial)
		entry.Supervisor = connection.SupervisorState(supervisor)

		ts, err := time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		entry.OccurredAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM connection_events WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting connection events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
