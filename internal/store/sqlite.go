package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default ProbeStore, backed by mattn/go-sqlite3 the
// same way the teacher backs its whatsmeow device store.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if needed) the probes/points tables at path and returns
// a ready SQLiteStore.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS probes (
	probe_id            TEXT PRIMARY KEY,
	user_id             INTEGER NOT NULL,
	contact_id          INTEGER NOT NULL,
	platform            TEXT NOT NULL,
	sent_at_ms          INTEGER NOT NULL,
	platform_message_id TEXT,
	platform_message_ts INTEGER,
	send_response       TEXT,
	delivered_at_ms     INTEGER,
	read_at_ms          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_probes_platform_message_id ON probes(platform, platform_message_id);
CREATE INDEX IF NOT EXISTS idx_probes_platform_ts ON probes(platform, platform_message_ts);

CREATE TABLE IF NOT EXISTS tracker_points (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL,
	contact_id     INTEGER NOT NULL,
	platform       TEXT NOT NULL,
	timestamp_ms   INTEGER NOT NULL,
	device_id      TEXT NOT NULL,
	state          TEXT NOT NULL,
	rtt_ms         INTEGER NOT NULL,
	avg_ms         INTEGER NOT NULL,
	median_ms      INTEGER NOT NULL,
	threshold_ms   INTEGER NOT NULL,
	timeout_streak INTEGER,
	probe_id       TEXT
);
CREATE INDEX IF NOT EXISTS idx_points_session ON tracker_points(user_id, contact_id, platform, timestamp_ms);
`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) InsertProbe(ctx context.Context, p InsertProbeParams) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO probes (probe_id, user_id, contact_id, platform, sent_at_ms, platform_message_id, platform_message_ts, send_response)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(probe_id) DO NOTHING`,
		p.ProbeID, p.UserID, p.ContactID, p.Platform, p.SentAtMS, p.PlatformMessageID, p.PlatformMessageTS, p.SendResponse)
	return err
}

func (s *SQLiteStore) FindByPlatformTS(ctx context.Context, platform string, ts int64) (*ProbeRow, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, contact_id, platform, probe_id, sent_at_ms, platform_message_id, platform_message_ts, delivered_at_ms, read_at_ms
FROM probes WHERE platform = ? AND platform_message_ts = ?`, platform, ts)
	return scanProbeRow(row)
}

func (s *SQLiteStore) FindByPlatformMessageID(ctx context.Context, platform, id string) (*ProbeRow, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, contact_id, platform, probe_id, sent_at_ms, platform_message_id, platform_message_ts, delivered_at_ms, read_at_ms
FROM probes WHERE platform = ? AND platform_message_id = ?`, platform, id)
	return scanProbeRow(row)
}

func scanProbeRow(row *sql.Row) (*ProbeRow, error) {
	var r ProbeRow
	err := row.Scan(&r.UserID, &r.ContactID, &r.Platform, &r.ProbeID, &r.SentAtMS, &r.PlatformMessageID, &r.PlatformMessageTS, &r.DeliveredAtMS, &r.ReadAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkDelivered sets delivered_at_ms once; later calls are no-ops,
// matching spec.md §6's set-once requirement.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, probeID string, deliveredAtMS int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE probes SET delivered_at_ms = ? WHERE probe_id = ? AND delivered_at_ms IS NULL`, deliveredAtMS, probeID)
	return err
}

// MarkRead sets read_at_ms once; later calls are no-ops.
func (s *SQLiteStore) MarkRead(ctx context.Context, probeID string, readAtMS int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE probes SET read_at_ms = ? WHERE probe_id = ? AND read_at_ms IS NULL`, readAtMS, probeID)
	return err
}

func (s *SQLiteStore) AddPoint(ctx context.Context, p AddPointParams) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tracker_points (user_id, contact_id, platform, timestamp_ms, device_id, state, rtt_ms, avg_ms, median_ms, threshold_ms, timeout_streak, probe_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ContactID, p.Platform, p.TimestampMS, p.DeviceID, p.State, p.RTTMS, p.AvgMS, p.MedianMS, p.ThresholdMS, p.TimeoutStreak, p.ProbeID)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ ProbeStore = (*SQLiteStore)(nil)
