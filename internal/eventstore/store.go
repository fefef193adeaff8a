// Package eventstore keeps a SQLite history of synthesis requests and the
// prompt, verify, synthesize and playback outcomes recorded for each.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-polly/internal/config"
	_ "modernc.org/sqlite"
)

// Request is one controller call (a play or a credential update).
type Request struct {
	ID        string
	Action    string
	Voice     string
	Speed     int
	Mode      string
	Chars     int
	Text      string
	Outcome   string
	CreatedAt time.Time
}

// Event is a step recorded against a request.
type Event struct {
	ID        int64
	RequestID string
	Type      string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed request history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. The ephemeral mode returns
// a store that records nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.RetentionMode == "session" {
		if err := s.clear(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear session history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    request_id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    voice TEXT,
    speed INTEGER,
    mode TEXT,
    chars INTEGER,
    text TEXT,
    outcome TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    outcome TEXT,
    detail TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(request_id) REFERENCES requests(request_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_events_request_created ON events(request_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM requests`)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether anything is written.
func (s *Store) Enabled() bool { return s.db != nil }

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRequest writes a request row. The text is kept only when
// event_store.record_text is set.
func (s *Store) AppendRequest(ctx context.Context, req Request) error {
	if s.db == nil {
		return nil
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.clock()
	}
	text := ""
	if s.cfg.RecordText {
		text = req.Text
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, action, voice, speed, mode, chars, text, outcome, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Action, req.Voice, req.Speed, req.Mode, req.Chars, text, req.Outcome, toMillis(req.CreatedAt))
	return err
}

// FinishRequest stores the final outcome of a request.
func (s *Store) FinishRequest(ctx context.Context, requestID, outcome string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET outcome = ? WHERE request_id = ?`, outcome, requestID)
	return err
}

// AppendEvent writes an event for an existing request.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(request_id, event_type, outcome, detail, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.RequestID, evt.Type, evt.Outcome, evt.Detail, toMillis(evt.CreatedAt))
	return err
}

// ListRecentRequests returns up to limit requests, newest first.
func (s *Store) ListRecentRequests(ctx context.Context, limit int) ([]Request, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, action, voice, speed, mode, chars, text, outcome, created_at
		 FROM requests ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var r Request
		var voice, mode, text, outcome sql.NullString
		var speed, chars sql.NullInt64
		var created int64
		if err := rows.Scan(&r.ID, &r.Action, &voice, &speed, &mode, &chars, &text, &outcome, &created); err != nil {
			return nil, err
		}
		r.Voice, r.Mode, r.Text, r.Outcome = voice.String, mode.String, text.String, outcome.String
		r.Speed, r.Chars = int(speed.Int64), int(chars.Int64)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRequestEvents retrieves up to limit events for a request ordered
// ascending by time.
func (s *Store) ListRequestEvents(ctx context.Context, requestID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, event_type, outcome, detail, created_at
		 FROM events WHERE request_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var outcome, detail sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Type, &outcome, &detail, &created); err != nil {
			return nil, err
		}
		e.Outcome, e.Detail = outcome.String, detail.String
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := toMillis(s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour))
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRequests > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE request_id IN (
			SELECT request_id FROM requests ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRequests)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
