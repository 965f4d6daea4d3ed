// Package repository provides PostgreSQL persistence for maintenance tasks,
// their schedules and completion history.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/schedule"
	"github.com/nadmax/tickler/internal/task"
)

//go:embed migrations.sql
var migrations string

type PostgresTaskRepository struct {
	db          *sql.DB
	log         zerolog.Logger
	lockTimeout time.Duration
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LockTimeout bounds how long a transaction waits for a row lock.
	// Zero leaves the server default in place.
	LockTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LockTimeout:     5 * time.Second,
	}
}

func NewPostgresTaskRepository(connectionString string, opts Options, log zerolog.Logger) (*PostgresTaskRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return NewWithDB(db, opts.LockTimeout, log), nil
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB, lockTimeout time.Duration, log zerolog.Logger) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db, log: log, lockTimeout: lockTimeout}
}

func (r *PostgresTaskRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, migrations); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) CreateTask(ctx context.Context, homeID int64, nt task.NewTask) (int64, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer r.rollback(tx)

	// Re-check item membership inside the transaction and hold it until commit.
	var itemID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM items
		WHERE id = $1 AND home_id = $2
		FOR SHARE
	`, nt.ItemID, homeID).Scan(&itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, classify("failed to check item", err)
	}

	var description any
	if nt.Description != nil {
		description = *nt.Description
	}

	var taskID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO maintenance_tasks (
			item_id, task_name, description,
			frequency_value, frequency_unit, priority
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		itemID,
		nt.Name,
		description,
		nt.Frequency.Value,
		string(nt.Frequency.Unit),
		string(nt.Priority),
	).Scan(&taskID)
	if err != nil {
		return 0, classify("failed to insert task", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_schedule (task_id, due_date)
		VALUES ($1, $2)
	`, taskID, nt.FirstDue); err != nil {
		return 0, classify("failed to insert schedule", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("failed to commit task", err)
	}

	return taskID, nil
}

func (r *PostgresTaskRepository) CompleteTask(ctx context.Context, homeID int64, c task.Completion) (*CompletionResult, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer r.rollback(tx)

	// Only the task row is locked. Completions of the same task serialize
	// here and read the schedule committed by the previous one.
	var (
		freq        task.Frequency
		unit        string
		previousDue sql.Null[date.Date]
	)
	err = tx.QueryRowContext(ctx, `
		SELECT t.frequency_value, t.frequency_unit, s.due_date
		FROM maintenance_tasks t
		JOIN items i ON i.id = t.item_id
		LEFT JOIN task_schedule s ON s.task_id = t.id
		WHERE t.id = $1
		  AND i.home_id = $2
		  AND ($3::bigint = 0 OR t.item_id = $3)
		FOR UPDATE OF t
	`, c.TaskID, homeID, c.ItemID).Scan(&freq.Value, &unit, &previousDue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify("failed to lock task", err)
	}
	freq.Unit = schedule.Unit(unit)

	next := freq.Next(c.CompletedOn)
	if next.After(date.Max) {
		return nil, fmt.Errorf("task %d completed %s: %w", c.TaskID, c.CompletedOn, ErrDateOutOfRange)
	}

	var note, cost any
	if c.Note != nil {
		note = *c.Note
	}
	if c.Cost != nil {
		cost = *c.Cost
	}

	var historyID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO task_history (task_id, note, cost, completed_on)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.TaskID, note, cost, c.CompletedOn).Scan(&historyID)
	if err != nil {
		return nil, classify("failed to insert history", err)
	}

	if c.PhotoPath != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO photos (history_id, file_path)
			VALUES ($1, $2)
		`, historyID, *c.PhotoPath); err != nil {
			return nil, classify("failed to insert photo", err)
		}
	}

	// The unique task_id constraint turns a missing row into an insert.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_schedule (task_id, due_date)
		VALUES ($1, $2)
		ON CONFLICT (task_id) DO UPDATE SET
			due_date = EXCLUDED.due_date
	`, c.TaskID, next); err != nil {
		return nil, classify("failed to advance schedule", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("failed to commit completion", err)
	}

	res := &CompletionResult{HistoryID: historyID, Frequency: freq, NextDue: next}
	if previousDue.Valid {
		res.PreviousDue = &previousDue.V
	} else {
		r.log.Warn().Int64("task_id", c.TaskID).Msg("schedule row was missing, recreated on completion")
	}

	return res, nil
}

const summaryColumns = `
	ts.id, ts.due_date, mt.id, mt.task_name, mt.description,
	mt.priority, i.name, i.id
`

func (r *PostgresTaskRepository) TasksDueInRange(ctx context.Context, homeID int64, start, end date.Date) ([]task.Summary, error) {
	query := `
		SELECT` + summaryColumns + `
		FROM task_schedule ts
		JOIN maintenance_tasks mt ON ts.task_id = mt.id
		JOIN items i ON mt.item_id = i.id
		WHERE i.home_id = $1
		  AND ts.due_date BETWEEN $2 AND $3
		ORDER BY ts.due_date ASC, mt.task_name ASC, mt.id ASC
	`

	return r.querySummaries(ctx, query, homeID, start, end)
}

func (r *PostgresTaskRepository) TasksDueOn(ctx context.Context, homeID int64, day date.Date) ([]task.Summary, error) {
	query := `
		SELECT` + summaryColumns + `
		FROM task_schedule ts
		JOIN maintenance_tasks mt ON ts.task_id = mt.id
		JOIN items i ON mt.item_id = i.id
		WHERE i.home_id = $1
		  AND ts.due_date = $2
		ORDER BY mt.task_name ASC, mt.id ASC
	`

	return r.querySummaries(ctx, query, homeID, day)
}

func (r *PostgresTaskRepository) querySummaries(ctx context.Context, query string, args ...any) ([]task.Summary, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("failed to query schedule", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	summaries := make([]task.Summary, 0)
	for rows.Next() {
		var s task.Summary
		var description sql.NullString
		var priority string
		if err := rows.Scan(
			&s.ScheduleID,
			&s.DueDate,
			&s.TaskID,
			&s.TaskName,
			&description,
			&priority,
			&s.ItemName,
			&s.ItemID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}

		if description.Valid {
			s.Description = &description.String
		}
		s.Priority = task.TaskPriority(priority)
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

func (r *PostgresTaskRepository) ItemInHome(ctx context.Context, itemID, homeID int64) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM items WHERE id = $1 AND home_id = $2
	`, itemID, homeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("failed to check item", err)
	}

	return true, nil
}

func (r *PostgresTaskRepository) ItemTasks(ctx context.Context, homeID, itemID int64) ([]task.ItemTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			t.id, t.item_id, t.task_name, t.description,
			t.frequency_value, t.frequency_unit, t.priority,
			t.created_at, s.due_date
		FROM maintenance_tasks t
		JOIN items i ON i.id = t.item_id
		LEFT JOIN task_schedule s ON s.task_id = t.id
		WHERE t.item_id = $1
		  AND i.home_id = $2
		ORDER BY
			CASE t.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			t.created_at DESC,
			t.id DESC
	`, itemID, homeID)
	if err != nil {
		return nil, classify("failed to query item tasks", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	tasks := make([]task.ItemTask, 0)
	for rows.Next() {
		var t task.ItemTask
		var description sql.NullString
		var unit, priority string
		var nextDue sql.Null[date.Date]
		if err := rows.Scan(
			&t.ID,
			&t.ItemID,
			&t.Name,
			&description,
			&t.Frequency.Value,
			&unit,
			&priority,
			&t.CreatedAt,
			&nextDue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item task: %w", err)
		}

		t.Description = description.String
		t.Frequency.Unit = schedule.Unit(unit)
		t.Priority = task.TaskPriority(priority)
		if nextDue.Valid {
			t.NextDue = &nextDue.V
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) ItemHistory(ctx context.Context, homeID, itemID int64) ([]task.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			th.id, th.task_id, mt.task_name, th.completed_on,
			th.note, th.cost, th.created_at
		FROM task_history th
		JOIN maintenance_tasks mt ON mt.id = th.task_id
		JOIN items i ON i.id = mt.item_id
		WHERE mt.item_id = $1
		  AND i.home_id = $2
		ORDER BY th.completed_on DESC NULLS LAST, th.id DESC
	`, itemID, homeID)
	if err != nil {
		return nil, classify("failed to query history", err)
	}

	history, err := scanHistory(rows, r.log)
	if err != nil {
		return nil, err
	}

	if err := r.attachPhotos(ctx, history); err != nil {
		return nil, err
	}

	return history, nil
}

func scanHistory(rows *sql.Rows, log zerolog.Logger) ([]task.HistoryEntry, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	history := make([]task.HistoryEntry, 0)
	for rows.Next() {
		var h task.HistoryEntry
		var completedOn sql.Null[date.Date]
		var note sql.NullString
		var cost sql.NullFloat64
		if err := rows.Scan(
			&h.ID,
			&h.TaskID,
			&h.TaskName,
			&completedOn,
			&note,
			&cost,
			&h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		if completedOn.Valid {
			h.CompletedOn = &completedOn.V
		}
		if note.Valid {
			h.Note = &note.String
		}
		if cost.Valid {
			h.Cost = &cost.Float64
		}
		h.Photos = []string{}

		history = append(history, h)
	}

	return history, rows.Err()
}

// attachPhotos loads photo paths for all entries in one query.
func (r *PostgresTaskRepository) attachPhotos(ctx context.Context, history []task.HistoryEntry) error {
	if len(history) == 0 {
		return nil
	}

	ids := make([]int64, len(history))
	index := make(map[int64]int, len(history))
	for i, h := range history {
		ids[i] = h.ID
		index[h.ID] = i
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT history_id, file_path
		FROM photos
		WHERE history_id = ANY($1)
		ORDER BY uploaded_at DESC, id DESC
	`, pq.Array(ids))
	if err != nil {
		return classify("failed to query photos", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	for rows.Next() {
		var historyID int64
		var path string
		if err := rows.Scan(&historyID, &path); err != nil {
			return fmt.Errorf("failed to scan photo row: %w", err)
		}

		if i, ok := index[historyID]; ok {
			history[i].Photos = append(history[i].Photos, path)
		}
	}

	return rows.Err()
}

func (r *PostgresTaskRepository) RoleOnHome(ctx context.Context, userID, homeID int64) (task.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT role
		FROM home_permissions
		WHERE user_id = $1 AND home_id = $2
		LIMIT 1
	`, userID, homeID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return task.RoleViewer, nil
	}
	if err != nil {
		return "", classify("failed to query role", err)
	}

	if task.Role(role) == task.RoleOwner {
		return task.RoleOwner, nil
	}

	return task.RoleViewer, nil
}

func (r *PostgresTaskRepository) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("failed to begin transaction", err)
	}

	if r.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			r.rollback(tx)
			return nil, classify("failed to set lock timeout", err)
		}
	}

	return tx, nil
}

func (r *PostgresTaskRepository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.log.Error().Err(err).Msg("failed to roll back transaction")
	}
}

// classify wraps err with context and marks lock and statement timeouts so
// callers can tell contention apart from other store failures.
func classify(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "57014":
			return fmt.Errorf("%s: %w: %w", msg, ErrLockTimeout, err)
		}
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func (r *PostgresTaskRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresTaskRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresTaskRepository) Close() error {
	return r.db.Close()
}
