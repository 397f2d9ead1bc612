// Package history records successful AQI readings in a local SQLite database
// and derives a short-term trend for the tooltip.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/breezebar/breezebar/internal/aqi"
)

// ErrEmpty is returned when no readings have been recorded yet.
var ErrEmpty = errors.New("no readings recorded")

// RetentionDays is how long readings are kept before pruning.
const RetentionDays = 30

// trendEpsilon is the minimum change between consecutive readings before
// the trend counts as rising or falling.
const trendEpsilon = 1.0

// Trend describes the short-term direction of the index.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendSteady  Trend = "steady"
)

// Arrow returns the glyph shown next to the indicator value.
func (t Trend) Arrow() string {
	switch t {
	case TrendRising:
		return "↑"
	case TrendFalling:
		return "↓"
	default:
		return "→"
	}
}

// Entry is one recorded reading.
type Entry struct {
	Value      float64
	ObservedAt time.Time
	FetchedAt  time.Time
	Source     string
}

// Store persists readings in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at the given path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// Timestamps are stored as unix seconds; sqlite has no native time type.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			value REAL NOT NULL,
			observed_at INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL,
			source TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_readings_fetched_at ON readings(fetched_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create readings table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a reading and prunes entries past the retention window.
func (s *Store) Record(r aqi.Reading) error {
	now := time.Now().UTC()

	if _, err := s.db.Exec(
		`INSERT INTO readings (value, observed_at, fetched_at, source) VALUES (?, ?, ?, ?)`,
		r.Value, r.ObservedAt.Unix(), now.Unix(), r.Source,
	); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	cutoff := now.AddDate(0, 0, -RetentionDays).Unix()
	if _, err := s.db.Exec(`DELETE FROM readings WHERE fetched_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune readings: %w", err)
	}

	return nil
}

// Recent returns up to limit readings, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT value, observed_at, fetched_at, source FROM readings ORDER BY fetched_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var observedAt, fetchedAt int64
		if err := rows.Scan(&e.Value, &observedAt, &fetchedAt, &e.Source); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		e.ObservedAt = time.Unix(observedAt, 0).UTC()
		e.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	return entries, nil
}

// CurrentTrend compares the two most recent readings. With fewer than two
// readings the trend is steady.
func (s *Store) CurrentTrend() (Trend, error) {
	entries, err := s.Recent(2)
	if err != nil {
		return TrendSteady, err
	}
	if len(entries) == 0 {
		return TrendSteady, ErrEmpty
	}
	if len(entries) < 2 {
		return TrendSteady, nil
	}

	delta := entries[0].Value - entries[1].Value
	switch {
	case delta >= trendEpsilon:
		return TrendRising, nil
	case delta <= -trendEpsilon:
		return TrendFalling, nil
	default:
		return TrendSteady, nil
	}
}
