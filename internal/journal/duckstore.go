// Package journal persists intake events to DuckDB for auditing.
package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/marcboeker/go-duckdb"

	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/models"
)

var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS event_seq`,
	`CREATE TABLE IF NOT EXISTS events (
		id         BIGINT DEFAULT nextval('event_seq'),
		session_id VARCHAR NOT NULL,
		kind       VARCHAR NOT NULL,
		source     VARCHAR,
		file_name  VARCHAR,
		slot       INTEGER,
		detail     VARCHAR,
		at_ms      BIGINT NOT NULL
	)`,
}

// Summary counts a session's events by kind.
type Summary struct {
	SessionID string                         `json:"sessionId"`
	Counts    map[models.IntakeEventKind]int `json:"counts"`
	Total     int                            `json:"total"`
}

// DuckStore appends intake events to a DuckDB database.
type DuckStore struct {
	db     *sql.DB
	path   string
	logger *log.Logger
	closed bool
	mu     sync.Mutex
}

// Open opens (or creates) the journal at path. An empty path keeps the
// journal in memory.
func Open(path string, threads int) (*DuckStore, error) {
	if threads <= 0 {
		threads = 1
	}
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create events table: %w", err)
		}
	}

	return &DuckStore{db: db, path: path, logger: logging.New("journal")}, nil
}

// Append writes one event.
func (s *DuckStore) Append(ctx context.Context, ev models.IntakeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("journal closed")
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, kind, source, file_name, slot, detail, at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Kind), ev.Source, ev.FileName, ev.Slot, ev.Detail, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Record appends ev and logs failures. It matches the intake OnEvent hook.
func (s *DuckStore) Record(ev models.IntakeEvent) {
	if err := s.Append(context.Background(), ev); err != nil {
		s.logger.Warnf("journal %s/%s: %v", ev.SessionID, ev.Kind, err)
	}
}

// Summary counts the events recorded for a session.
func (s *DuckStore) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM events WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	defer rows.Close()

	sum := &Summary{SessionID: sessionID, Counts: make(map[models.IntakeEventKind]int)}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.Counts[models.IntakeEventKind(kind)] = n
		sum.Total += n
	}
	return sum, rows.Err()
}

// Recent returns up to limit events for a session, newest first.
func (s *DuckStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.IntakeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT session_id, kind, COALESCE(source, ''), COALESCE(file_name, ''), COALESCE(slot, -1), COALESCE(detail, ''), at_ms
		FROM events
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT %d`, limit)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]models.IntakeEvent, 0)
	for rows.Next() {
		var ev models.IntakeEvent
		var kind string
		var atMs int64
		if err := rows.Scan(&ev.SessionID, &kind, &ev.Source, &ev.FileName, &ev.Slot, &ev.Detail, &atMs); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = models.IntakeEventKind(kind)
		ev.At = time.UnixMilli(atMs)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *DuckStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
