package repository

import (
	"context"
	"errors"

	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/task"
)

var (
	ErrNotFound    = errors.New("not found in home scope")
	ErrLockTimeout = errors.New("lock wait timed out")

	// ErrDateOutOfRange means the next due date would not fit a DATE column.
	ErrDateOutOfRange = errors.New("next due date out of range")
)

// CompletionResult reports what a recorded completion changed.
type CompletionResult struct {
	HistoryID   int64
	Frequency   task.Frequency
	PreviousDue *date.Date
	NextDue     date.Date
}

type MaintenanceRepository interface {
	// CreateTask inserts the task and its single schedule row atomically.
	// It returns ErrNotFound when the item is not in homeID.
	CreateTask(ctx context.Context, homeID int64, nt task.NewTask) (int64, error)
	// CompleteTask locks the task row, appends history and advances the
	// schedule in one transaction. It returns ErrNotFound when the task is
	// not in homeID (or not on the given item).
	CompleteTask(ctx context.Context, homeID int64, c task.Completion) (*CompletionResult, error)
	TasksDueInRange(ctx context.Context, homeID int64, start, end date.Date) ([]task.Summary, error)
	TasksDueOn(ctx context.Context, homeID int64, day date.Date) ([]task.Summary, error)
	ItemInHome(ctx context.Context, itemID, homeID int64) (bool, error)
	ItemTasks(ctx context.Context, homeID, itemID int64) ([]task.ItemTask, error)
	ItemHistory(ctx context.Context, homeID, itemID int64) ([]task.HistoryEntry, error)
	RoleOnHome(ctx context.Context, userID, homeID int64) (task.Role, error)
	Ping(ctx context.Context) error
	Close() error
}
