package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"boardnotify/internal/clock"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed persistence gateway.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database and applies migrations.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadCandidates returns rule snapshots eligible for the working set at now,
// joined with the owning user's handle. The slack widens the window to absorb
// tick granularity and clock skew:
//
//	once:         start_at > now-slack, never executed
//	daily/weekly: start_at <= now+slack AND stop_at > now-slack
//
// Rows with malformed recurrence fields are skipped with a warning rather
// than failing the whole load.
func (s *Store) LoadCandidates(ctx context.Context, now time.Time, slack time.Duration) ([]NotifyRule, error) {
	early := now.Add(-slack).UnixMilli()
	late := now.Add(slack).UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.user_id, u.username,
		       n.category_id, n.item_id, n.progress_id,
		       n.run_mode, n.start_at, n.stop_at,
		       n.time_at, n.week_mask, n.run_code, n.last_executed
		FROM task_notifies n
		JOIN users u ON u.id = n.user_id
		WHERE (n.run_mode = 0 AND n.start_at > ? AND n.last_executed IS NULL)
		   OR (n.run_mode IN (1, 2) AND n.start_at <= ? AND n.stop_at > ?)
		ORDER BY n.id`,
		early, late, early,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotifyRule
	for rows.Next() {
		var (
			r               NotifyRule
			mode            int
			startMS, stopMS int64
			timeAt, mask    string
			lastMS          sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username,
			&r.CategoryID, &r.ItemID, &r.ProgressID,
			&mode, &startMS, &stopMS, &timeAt, &mask, &r.RunCode, &lastMS); err != nil {
			return nil, err
		}
		r.Mode = RunMode(mode)
		r.StartAt = time.UnixMilli(startMS).UTC()
		r.StopAt = time.UnixMilli(stopMS).UTC()
		if lastMS.Valid {
			t := time.UnixMilli(lastMS.Int64).UTC()
			r.LastExecuted = &t
		}
		if err := parseRecurrence(&r, timeAt, mask); err != nil {
			s.log.Warn().Int64("rule", r.ID).Err(err).Msg("skipping malformed rule")
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseRecurrence fills the local-time fields and enforces the per-mode
// requirements (time of day for daily/weekly, non-empty mask for weekly).
func parseRecurrence(r *NotifyRule, timeAt, mask string) error {
	if !r.Mode.Valid() {
		return fmt.Errorf("unknown run mode %d", r.Mode)
	}
	if r.Mode == RunOnce {
		return nil
	}
	tod, err := clock.ParseTimeOfDay(timeAt)
	if err != nil {
		return err
	}
	r.TimeAt = tod
	if r.Mode == RunWeekly {
		m, err := clock.ParseWeekdayMask(mask)
		if err != nil {
			return err
		}
		if m.IsEmpty() {
			return errors.New("weekly rule has empty weekday mask")
		}
		r.Weekdays = m
	}
	return nil
}

// RecordExecuted persists last_executed for the rule; a nil instant clears
// it (manual reset). The bool reports whether the row existed.
func (s *Store) RecordExecuted(ctx context.Context, id int64, at *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_notifies SET last_executed = ? WHERE id = ?`,
		nullMilli(at), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResolveDetails looks up the human-readable target of a rule.
// Returns ErrNotFound if any of the three ids no longer exists.
func (s *Store) ResolveDetails(ctx context.Context, categoryID, itemID, progressID int64) (ProgressDetails, error) {
	var d ProgressDetails
	err := s.db.QueryRowContext(ctx, `
		SELECT c.category_name, i.item_name, p.progress_name, p.content
		FROM task_categories c, task_items i, task_progress p
		WHERE c.id = ? AND i.id = ? AND p.id = ?`,
		categoryID, itemID, progressID,
	).Scan(&d.CategoryName, &d.ItemName, &d.ProgressName, &d.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return ProgressDetails{}, ErrNotFound
	}
	if err != nil {
		return ProgressDetails{}, err
	}
	return d, nil
}

func nullMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
