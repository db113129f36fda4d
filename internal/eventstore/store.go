package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
	_ "modernc.org/sqlite"
)

// Run summarises one stored pipeline run.
type Run struct {
	ID        string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Events    int       `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps a SQLite timeline of notification events per run. In
// ephemeral mode it has no database and every call is a no-op.
type Store struct {
	db     *sql.DB
	cfg    config.EventStoreConfig
	nodeID string
	log    *slog.Logger
	clock  func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, nodeID string, log *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, nodeID: nodeID, log: log.With(slog.String("component", "eventstore")), clock: time.Now}
	if cfg.RetentionMode == "ephemeral" {
		return s, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			s.log.Warn("event store vacuum failed", slogError(err))
		}
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn("event store prune on start failed", slogError(err))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    node_id TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    channel TEXT NOT NULL,
    step TEXT NOT NULL,
    text TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, seq);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether events are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// AppendEvent writes one notification event, creating its run row on first
// sight.
func (s *Store) AppendEvent(ctx context.Context, evt notify.Event) error {
	if !s.Enabled() {
		return nil
	}
	created := evt.Timestamp
	if created.IsZero() {
		created = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, node_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		evt.RunID, s.nodeID, created.UnixNano()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events(run_id, seq, kind, channel, step, text, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.Seq, string(evt.Kind), string(evt.Channel), string(evt.Step), evt.Text, created.UnixNano()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// ListRunEvents returns up to limit events of a run in emission order.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]notify.Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, channel, step, text, created_at
		 FROM events WHERE run_id = ? ORDER BY seq ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []notify.Event
	for rows.Next() {
		var (
			e                   notify.Event
			kind, channel, step string
			created             int64
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &kind, &channel, &step, &e.Text, &created); err != nil {
			return nil, err
		}
		e.Kind = notify.Kind(kind)
		e.Channel = notify.Channel(channel)
		e.Step = notify.Step(step)
		e.Timestamp = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.run_id, r.node_id, r.created_at, COUNT(e.id)
		 FROM runs r LEFT JOIN events e ON e.run_id = r.run_id
		 GROUP BY r.run_id ORDER BY r.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.NodeID, &created, &r.Events); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() || s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
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
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
