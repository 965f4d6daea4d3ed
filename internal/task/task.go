// Package task defines the maintenance task domain model shared by the
// repository, the scheduling service and the HTTP layer.
package task

import (
	"encoding/json"
	"time"

	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/schedule"
)

type (
	TaskPriority string
	Role         string
)

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

const (
	RoleOwner  Role = "owner"
	RoleViewer Role = "viewer"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Rank orders priorities for display, high first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func (p TaskPriority) String() string {
	return string(p)
}

type Frequency struct {
	Value int           `json:"frequency_value"`
	Unit  schedule.Unit `json:"frequency_unit"`
}

func (f Frequency) Next(anchor date.Date) date.Date {
	return schedule.NextDue(anchor, f.Value, f.Unit)
}

// Task is a recurring maintenance obligation attached to an item.
type Task struct {
	ID          int64        `json:"id"`
	ItemID      int64        `json:"item_id"`
	Name        string       `json:"task_name"`
	Description string       `json:"description,omitempty"`
	Frequency   Frequency    `json:"frequency"`
	Priority    TaskPriority `json:"priority"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CallerContext carries the resolved identity of the requester. It is passed
// explicitly to every operation instead of living in request-global state.
type CallerContext struct {
	UserID       int64
	ActiveHomeID int64
	Role         Role
}

func (c CallerContext) CanWrite() bool {
	return c.Role == RoleOwner
}

// Summary is one scheduled task as shown on the calendar.
type Summary struct {
	ScheduleID  int64        `json:"schedule_id"`
	DueDate     date.Date    `json:"due_date"`
	TaskID      int64        `json:"task_id"`
	TaskName    string       `json:"task_name"`
	Description *string      `json:"description"`
	Priority    TaskPriority `json:"priority"`
	ItemName    string       `json:"item_name"`
	ItemID      int64        `json:"item_id"`
}

// ItemTask is a task listed on its item's maintenance view. NextDue is nil
// only when the schedule row is missing.
type ItemTask struct {
	Task
	NextDue *date.Date `json:"next_due"`
}

// HistoryEntry is one completed occurrence of a task.
type HistoryEntry struct {
	ID          int64      `json:"history_id"`
	TaskID      int64      `json:"task_id"`
	TaskName    string     `json:"task_name"`
	CompletedOn *date.Date `json:"completed_on"`
	Note        *string    `json:"note"`
	Cost        *float64   `json:"cost"`
	CreatedAt   time.Time  `json:"created_at"`
	Photos      []string   `json:"photos"`
}

// DisplayDate prefers the completion date and falls back to the day the
// entry was recorded for legacy rows without one.
func (h HistoryEntry) DisplayDate() date.Date {
	if h.CompletedOn != nil {
		return *h.CompletedOn
	}

	return date.Of(h.CreatedAt)
}

// MarshalJSON adds display_date so clients need not repeat the fallback.
func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	type plain HistoryEntry
	return json.Marshal(struct {
		plain
		DisplayDate date.Date `json:"display_date"`
	}{plain(h), h.DisplayDate()})
}

// NewTask describes a task to create along with its first due date.
type NewTask struct {
	ItemID      int64
	Name        string
	Description *string
	Frequency   Frequency
	Priority    TaskPriority
	FirstDue    date.Date
}

// Completion is a validated completion event.
type Completion struct {
	TaskID      int64
	ItemID      int64 // zero when the caller did not scope by item
	CompletedOn date.Date
	Note        *string
	Cost        *float64
	PhotoPath   *string
}
