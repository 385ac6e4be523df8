package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// SQLite is an embedded, file-backed Store for single-node deployments
// that want cache/rate-limit persistence across restarts without running
// a separate service. SQLite has no native per-row TTL, so expiry is
// enforced two ways: defensively at read time (Get never returns an
// expired row) and proactively by a cron-scheduled sweep, mirroring how
// a production deployment would keep the table from growing unbounded.
type SQLite struct {
	db    *sql.DB
	cron  *cron.Cron
	entry cron.EntryID
}

// NewSQLite opens (creating if needed) a SQLite-backed store at path and
// schedules a sweep of expired rows every sweepSpec (a standard 5-field
// cron expression, e.g. "*/1 * * * *" for once a minute).
func NewSQLite(path string, sweepSpec string) (*SQLite, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite supports a single writer.

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &SQLite{db: db, cron: cron.New()}
	if sweepSpec == "" {
		sweepSpec = "*/1 * * * *"
	}
	id, err := s.cron.AddFunc(sweepSpec, s.sweep)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	s.entry = id
	s.cron.Start()
	return s, nil
}

func (s *SQLite) sweep() {
	_, _ = s.db.Exec(`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, time.Now().Unix())
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if expiresAt != 0 && expiresAt <= time.Now().Unix() {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	return err
}

// Incr follows the same lazy-create-with-TTL contract as the other
// backends. It runs inside a transaction since SQLite's single-writer
// model makes a plain read-then-write race-free in practice, but a
// transaction keeps the statement atomic under future concurrent callers
// without depending on that.
func (s *SQLite) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	var value []byte
	var expiresAt int64
	row := tx.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key)
	err = row.Scan(&value, &expiresAt)

	var n int64
	switch {
	case err == sql.ErrNoRows, err == nil && expiresAt != 0 && expiresAt <= now.Unix():
		n = 1
		var newExpiresAt int64
		if ttl > 0 {
			newExpiresAt = now.Add(ttl).Unix()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, []byte(strconv.FormatInt(n, 10)), newExpiresAt); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		n, _ = strconv.ParseInt(string(value), 10, 64)
		n++
		if _, err := tx.ExecContext(ctx, `UPDATE kv SET value = ? WHERE key = ?`,
			[]byte(strconv.FormatInt(n, 10)), key); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Close() error {
	<-s.cron.Stop().Done()
	return s.db.Close()
}
