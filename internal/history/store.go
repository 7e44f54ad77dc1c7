// Package history keeps a rolling SQLite log of the pH and EC readings
// carried by status broadcasts. It stores telemetry only; operator
// settings never touch disk.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cultimatics/growstudio/internal/config"
	"github.com/cultimatics/growstudio/internal/sensei"
)

// Reading is one stored sample.
type Reading struct {
	At     time.Time `json:"at"`
	PH     float64   `json:"ph"`
	EC     float64   `json:"ec"`
	Dosers int       `json:"dosers"`
}

// Store is a reading log backed by SQLite. All methods are safe for
// concurrent use.
type Store struct {
	db          *sql.DB
	minInterval time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	lastAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for stamping readings taken from status
// payloads.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens (creating if needed) the database at dbPath. Readings
// closer together than minInterval are skipped.
func NewStore(dbPath string, minInterval time.Duration, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:          db,
		minInterval: minInterval,
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms   INTEGER NOT NULL,
		ph      REAL NOT NULL,
		ec      REAL NOT NULL,
		dosers  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_readings_at ON readings(at_ms);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores r unless the previous stored reading is less than
// minInterval older. It reports whether a row was written.
func (s *Store) Record(ctx context.Context, r Reading) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastAt.IsZero() && r.At.Sub(s.lastAt) < s.minInterval {
		return false, nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (at_ms, ph, ec, dosers) VALUES (?, ?, ?, ?)`,
		r.At.UnixMilli(), r.PH, r.EC, r.Dosers,
	)
	if err != nil {
		return false, fmt.Errorf("record reading: %w", err)
	}
	s.lastAt = r.At
	return true, nil
}

// Recent returns up to limit readings, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, ph, ec, dosers FROM readings ORDER BY at_ms DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := []Reading{}
	for rows.Next() {
		var (
			r    Reading
			atMS int64
		)
		if err := rows.Scan(&atMS, &r.PH, &r.EC, &r.Dosers); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.At = time.UnixMilli(atMS).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes readings taken before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return res.RowsAffected()
}

// HandleStatus is a router callback for the status topic. It is
// registered next to the dashboard's own status handler.
func (s *Store) HandleStatus(payload []byte) error {
	st, err := sensei.DecodeStatus(payload)
	if err != nil {
		return err
	}
	r := Reading{At: s.now().UTC(), PH: st.PH, EC: st.EC, Dosers: len(st.Dosers)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := s.Record(ctx, r)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Log(ctx, config.LevelTrace, "reading recorded", "ph", r.PH, "ec", r.EC)
	}
	return nil
}
