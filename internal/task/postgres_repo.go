package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskhive/internal/model"
)

const tasksTable = "tasks"

const taskColumns = `id, user_id, title, description, priority, category, due_date,
    is_completed, created_at, updated_at, soft_deleted, deleted_at`

// PostgresRepo keeps tasks in a single table keyed by id and scoped by user_id.
// Mutations lock the rows they touch with SELECT ... FOR UPDATE and run the
// same task rules as the other backends before writing the rows back.
type PostgresRepo struct {
	pool   *pgxpool.Pool
	userID string
	now    func() time.Time
}

var (
	_ Backend = (*PostgresRepo)(nil)
	_ Repo    = (*PostgresRepo)(nil)
)

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool, userID: "default", now: time.Now}
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r := NewPostgresRepo(pool)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("task store not initialized")
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tasksTable + ` (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    title        VARCHAR(255) NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    priority     TEXT NOT NULL DEFAULT 'Medium',
    category     VARCHAR(100) NOT NULL DEFAULT '',
    due_date     TIMESTAMPTZ,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    soft_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at   TIMESTAMPTZ
)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_live ON ` + tasksTable + ` (user_id, soft_deleted, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_deleted_at ON ` + tasksTable + ` (deleted_at) WHERE soft_deleted`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure task schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepo) ForUser(userID string) Repo {
	return &PostgresRepo{pool: r.pool, userID: normalizeUser(userID), now: r.now}
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func scanTask(row pgx.Row) (model.Task, error) {
	var (
		t        model.Task
		id       string
		priority string
	)
	err := row.Scan(&id, &t.UserID, &t.Title, &t.Description, &priority, &t.Category, &t.DueDate,
		&t.IsCompleted, &t.CreatedAt, &t.UpdatedAt, &t.SoftDeleted, &t.DeletedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.ID = model.TaskID(id)
	t.Priority = model.Priority(priority)
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]model.Task, error) {
	defer rows.Close()
	out := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func idStrings(ids []model.TaskID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// mutate locks the user's rows named by ids, runs fn over them and writes
// back whatever fn touched, all in one transaction.
func (r *PostgresRepo) mutate(ctx context.Context, ids []model.TaskID, fn func(*taskSet) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tasks := map[model.TaskID]model.Task{}
	if len(ids) > 0 {
		rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM `+tasksTable+`
WHERE user_id = $1 AND id = ANY($2) FOR UPDATE`, r.userID, idStrings(ids))
		if err != nil {
			return fmt.Errorf("lock tasks: %w", err)
		}
		locked, err := collectTasks(rows)
		if err != nil {
			return err
		}
		for _, t := range locked {
			tasks[t.ID] = t
		}
	}

	set := newTaskSet(r.userID, tasks)
	if err := fn(set); err != nil {
		return err
	}
	if len(set.dirty) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for id := range set.dirty {
		t, ok := set.tasks[id]
		if !ok {
			batch.Queue(`DELETE FROM `+tasksTable+` WHERE id = $1 AND user_id = $2`, string(id), r.userID)
			continue
		}
		batch.Queue(`INSERT INTO `+tasksTable+` (`+taskColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    priority = EXCLUDED.priority,
    category = EXCLUDED.category,
    due_date = EXCLUDED.due_date,
    is_completed = EXCLUDED.is_completed,
    updated_at = EXCLUDED.updated_at,
    soft_deleted = EXCLUDED.soft_deleted,
    deleted_at = EXCLUDED.deleted_at
WHERE `+tasksTable+`.user_id = EXCLUDED.user_id`,
			string(t.ID), t.UserID, t.Title, t.Description, string(t.Priority), t.Category, t.DueDate,
			t.IsCompleted, t.CreatedAt, t.UpdatedAt, t.SoftDeleted, t.DeletedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, in model.TaskCreate) (out model.Task, err error) {
	err = r.mutate(ctx, nil, func(s *taskSet) error {
		out, err = s.create(in, r.now())
		return err
	})
	return out, err
}

func (r *PostgresRepo) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM `+tasksTable+`
WHERE id = $1 AND user_id = $2 AND NOT soft_deleted`, string(id), r.userID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepo) List(ctx context.Context, f model.Filter) (model.Page, error) {
	f = f.Normalize()
	where := `user_id = $1 AND NOT soft_deleted
    AND ($2 = '' OR priority = $2)
    AND ($3 = '' OR category = $3)
    AND ($4::boolean IS NULL OR is_completed = $4)`
	args := []any{r.userID, string(f.Priority), f.Category, f.IsCompleted}
	return r.page(ctx, where, "created_at", args, f.Limit, f.Offset)
}

func (r *PostgresRepo) page(ctx context.Context, where, orderBy string, args []any, limit, offset int) (model.Page, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM `+tasksTable+` WHERE `+where, args...).Scan(&total); err != nil {
		return model.Page{}, fmt.Errorf("count tasks: %w", err)
	}
	n := len(args)
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM `+tasksTable+` WHERE `+where+
		fmt.Sprintf(` ORDER BY %s DESC, id DESC LIMIT $%d OFFSET $%d`, orderBy, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return model.Page{}, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{Tasks: tasks, Total: total, Offset: offset}, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id model.TaskID, p model.Patch) (out model.Task, err error) {
	err = r.mutate(ctx, []model.TaskID{id}, func(s *taskSet) error {
		out, err = s.update(id, p, r.now())
		return err
	})
	return out, err
}

func (r *PostgresRepo) Toggle(ctx context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.mutate(ctx, []model.TaskID{id}, func(s *taskSet) error {
		out, err = s.toggle(id, r.now())
		return err
	})
	return out, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id model.TaskID) error {
	return r.mutate(ctx, []model.TaskID{id}, func(s *taskSet) error { return s.remove(id, r.now()) })
}

func (r *PostgresRepo) BulkUpdate(ctx context.Context, ids []model.TaskID, p model.Patch) (n int, err error) {
	err = r.mutate(ctx, ids, func(s *taskSet) error {
		n, err = s.bulkUpdate(ids, p, r.now())
		return err
	})
	return n, err
}

func (r *PostgresRepo) BulkDelete(ctx context.Context, ids []model.TaskID) (n int, err error) {
	err = r.mutate(ctx, ids, func(s *taskSet) error {
		n, err = s.bulkDelete(ids, r.now())
		return err
	})
	return n, err
}

func (r *PostgresRepo) ListTrash(ctx context.Context, limit, offset int) (model.Page, error) {
	f := model.Filter{Limit: limit, Offset: offset}.Normalize()
	return r.page(ctx, `user_id = $1 AND soft_deleted`, "deleted_at", []any{r.userID}, f.Limit, f.Offset)
}

func (r *PostgresRepo) Restore(ctx context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.mutate(ctx, []model.TaskID{id}, func(s *taskSet) error {
		out, err = s.restore(id, r.now())
		return err
	})
	return out, err
}

func (r *PostgresRepo) RestoreMany(ctx context.Context, ids []model.TaskID) (n int, err error) {
	err = r.mutate(ctx, ids, func(s *taskSet) error {
		n, err = s.restoreMany(ids, r.now())
		return err
	})
	return n, err
}

func (r *PostgresRepo) PurgeTrash(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+tasksTable+`
WHERE user_id = $1 AND soft_deleted AND deleted_at < $2`, r.userID, before)
	if err != nil {
		return 0, fmt.Errorf("purge trash: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepo) PurgeAllTrash(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+tasksTable+` WHERE soft_deleted AND deleted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge trash: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepo) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := r.pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE is_completed)
FROM `+tasksTable+` WHERE user_id = $1 AND NOT soft_deleted`, r.userID).Scan(&st.Total, &st.Completed)
	if err != nil {
		return model.Stats{}, fmt.Errorf("task stats: %w", err)
	}
	st.Pending = st.Total - st.Completed
	return st, nil
}
