package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tasksync/domain"
)

// Fixed width so that text ordering equals time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the relational backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: path}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	due_date TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_due_date ON tasks (due_date);
CREATE INDEX IF NOT EXISTS tasks_created_at ON tasks (created_at);`
	_, err := s.db.Exec(ddl)
	return err
}

// whereClause translates the exact-match filter criteria into SQL
// conditions. The free-text query is left to Filter.Matches since SQLite's
// lower() only folds ASCII.
func whereClause(f domain.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.DueAfter != nil {
		conds = append(conds, "due_date >= ?")
		args = append(args, f.DueAfter.String())
	}
	if f.DueBefore != nil {
		conds = append(conds, "due_date <= ?")
		args = append(args, f.DueBefore.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const selectColumns = `SELECT id, title, description, status, priority, due_date, created_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t                  domain.Task
		status, priority   string
		dueDate, createdAt string
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &dueDate, &createdAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	d, err := domain.ParseDate(dueDate)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: bad due_date %q", t.ID, dueDate)
	}
	t.DueDate = d
	ts, err := time.Parse(timestampLayout, createdAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: bad created_at %q", t.ID, createdAt)
	}
	t.CreatedAt = ts
	return t, nil
}

func (s *SQLite) List(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	where, args := whereClause(f)
	rows, err := s.db.QueryContext(ctx, selectColumns+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if !f.Matches(t) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (s *SQLite) Insert(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.DueDate.String(),
		t.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLite) Replace(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, due_date = ? WHERE id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.DueDate.String(), t.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
