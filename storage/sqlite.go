package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gcconfirm/confirm"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Series IDs can hold commas, so tracked IDs are stored one per line.
const trackedSep = "\n"

// SQLite is the modernc.org/sqlite backed Store.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the SQLite file at dbPath and creates the
// confirmations table if it does not exist. The caller must Close it.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	// The modernc.org driver is pure Go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS confirmations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  INTEGER NOT NULL,
    elapsed_ns  INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    interrupted INTEGER NOT NULL,
    cycles      INTEGER NOT NULL,
    polls       INTEGER NOT NULL,
    tracked     TEXT NOT NULL,
    rss_before  INTEGER NOT NULL,
    rss_after   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_confirmations_outcome_started ON confirmations(outcome, started_at);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create confirmations table: %w", err)
	}
	s.log.Debug("SQLite migration applied")
	return nil
}

// Save stores a result in a single transaction.
func (s *SQLite) Save(ctx context.Context, res confirm.Result) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	r, err := tx.ExecContext(ctx, `
INSERT INTO confirmations
    (started_at, elapsed_ns, outcome, interrupted, cycles, polls, tracked, rss_before, rss_after)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.StartedAt.UTC().UnixNano(),
		int64(res.Elapsed),
		string(res.Outcome),
		res.Interrupted,
		int64(res.Cycles),
		res.Polls,
		strings.Join(res.Tracked, trackedSep),
		int64(res.RSSBefore),
		int64(res.RSSAfter),
	)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("insert confirmation: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("read insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	s.log.Debug("confirmation persisted", zap.Int64("id", id), zap.String("outcome", string(res.Outcome)))
	return id, nil
}

// Query implements Store. With a Limit it keeps the newest records.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if !f.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.From.UTC().UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "started_at <= ?")
		args = append(args, f.To.UTC().UnixNano())
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	q := `SELECT id, started_at, elapsed_ns, outcome, interrupted, cycles, polls, tracked, rss_before, rss_after
FROM confirmations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query confirmations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                    Record
			started, elapsed       int64
			outcome, tracked       string
			cycles, rssBef, rssAft int64
		)
		if err := rows.Scan(&rec.ID, &started, &elapsed, &outcome, &rec.Interrupted,
			&cycles, &rec.Polls, &tracked, &rssBef, &rssAft); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.Elapsed = time.Duration(elapsed)
		rec.Outcome = confirm.Outcome(outcome)
		rec.Cycles = uint64(cycles)
		rec.RSSBefore = uint64(rssBef)
		rec.RSSAfter = uint64(rssAft)
		if tracked != "" {
			rec.Tracked = strings.Split(tracked, trackedSep)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmations: %w", err)
	}

	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
