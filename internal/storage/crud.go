package storage

import (
	"context"
)

// Row helpers used by the surrounding CRUD layer and by tests. The engine
// itself only reads through LoadCandidates/ResolveDetails and writes through
// RecordExecuted.

func (s *Store) CreateUser(ctx context.Context, username string, admin bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, is_admin) VALUES(?, ?)`, username, admin)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) CreateCategory(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_categories(category_name) VALUES(?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) CreateItem(ctx context.Context, categoryID int64, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_items(category_id, item_name) VALUES(?, ?)`, categoryID, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) CreateProgress(ctx context.Context, itemID int64, name, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_progress(item_id, progress_name, content) VALUES(?, ?, ?)`, itemID, name, content)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateRule inserts a rule row. TimeAt/Weekdays are persisted in their
// text forms; LastExecuted is honored so fixtures can model already-fired
// rules.
func (s *Store) CreateRule(ctx context.Context, r NotifyRule) (int64, error) {
	timeAt := ""
	if r.Mode != RunOnce {
		timeAt = r.TimeAt.String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_notifies(user_id, category_id, item_id, progress_id,
			run_mode, start_at, stop_at, time_at, week_mask, run_code, last_executed)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.UserID, r.CategoryID, r.ItemID, r.ProgressID,
		int(r.Mode), r.StartAt.UnixMilli(), r.StopAt.UnixMilli(),
		timeAt, r.Weekdays.String(), r.RunCode, nullMilli(r.LastExecuted),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
