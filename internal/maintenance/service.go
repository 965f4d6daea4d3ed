// Package maintenance implements the scheduling engine operations: creating
// recurring tasks, recording completions and answering calendar queries.
//
// Every operation takes the caller's CallerContext explicitly and re-checks
// home scope against the store. Failures are returned as *apperr.Error so the
// HTTP layer can map them to stable codes without seeing store internals.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nadmax/tickler/internal/apperr"
	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/metrics"
	"github.com/nadmax/tickler/internal/repository"
	"github.com/nadmax/tickler/internal/schedule"
	"github.com/nadmax/tickler/internal/task"
)

const minCalendarYear = 2000

type Service struct {
	repo repository.MaintenanceRepository
	log  zerolog.Logger
	now  func() time.Time
}

type Option func(*Service)

// WithClock overrides the source of "today" used for default first due dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo repository.MaintenanceRepository, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

type CreateTaskInput struct {
	ItemID         int64
	Name           string
	Description    string
	FrequencyValue int
	FrequencyUnit  string
	Priority       string
	FirstDueDate   string // optional YYYY-MM-DD
}

type CreateTaskOutput struct {
	TaskID  int64     `json:"task_id"`
	DueDate date.Date `json:"due_date"`
}

type CompleteTaskInput struct {
	TaskID      int64
	ItemID      int64 // optional extra scope
	CompletedOn string
	Note        string
	Cost        *float64
	PhotoPath   string
}

type CompleteTaskOutput struct {
	HistoryID int64     `json:"history_id"`
	DueDate   date.Date `json:"due_date"`
}

func (s *Service) CreateTask(ctx context.Context, caller task.CallerContext, in CreateTaskInput) (out *CreateTaskOutput, err error) {
	start := time.Now()
	defer func() { s.record("create", start, err) }()

	if !caller.CanWrite() {
		return nil, apperr.Forbidden(nil)
	}

	nt, err := s.validateNewTask(in)
	if err != nil {
		return nil, apperr.Validation(apperr.TaskInvalid, err)
	}

	taskID, err := s.repo.CreateTask(ctx, caller.ActiveHomeID, nt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.TaskNotFound, fmt.Errorf("item %d: %w", in.ItemID, err))
	}
	if err != nil {
		return nil, apperr.Failed(apperr.TaskAddFailed, err)
	}

	metrics.RecordTaskCreated(nt.Priority.String(), string(nt.Frequency.Unit))
	s.log.Info().
		Int64("task_id", taskID).
		Int64("item_id", nt.ItemID).
		Int64("home_id", caller.ActiveHomeID).
		Str("due_date", nt.FirstDue.String()).
		Msg("task created")

	return &CreateTaskOutput{TaskID: taskID, DueDate: nt.FirstDue}, nil
}

func (s *Service) validateNewTask(in CreateTaskInput) (task.NewTask, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case in.ItemID <= 0:
		return task.NewTask{}, errors.New("item id is required")
	case name == "":
		return task.NewTask{}, errors.New("task name is required")
	case in.FrequencyValue <= 0:
		return task.NewTask{}, errors.New("frequency value must be positive")
	case in.FrequencyValue > schedule.MaxValue:
		return task.NewTask{}, fmt.Errorf("frequency value must be at most %d", schedule.MaxValue)
	}

	unit, err := schedule.ParseUnit(in.FrequencyUnit)
	if err != nil {
		return task.NewTask{}, err
	}

	priority := task.TaskPriority(in.Priority)
	if !priority.Valid() {
		return task.NewTask{}, fmt.Errorf("unknown priority %q", in.Priority)
	}

	nt := task.NewTask{
		ItemID:    in.ItemID,
		Name:      name,
		Frequency: task.Frequency{Value: in.FrequencyValue, Unit: unit},
		Priority:  priority,
	}

	if desc := strings.TrimSpace(in.Description); desc != "" {
		nt.Description = &desc
	}

	if first := strings.TrimSpace(in.FirstDueDate); first != "" {
		nt.FirstDue, err = date.Parse(first)
		if err != nil {
			return task.NewTask{}, err
		}
	} else {
		nt.FirstDue = nt.Frequency.Next(date.Of(s.now()))
	}

	if nt.FirstDue.After(date.Max) {
		return task.NewTask{}, fmt.Errorf("first due date %s is out of range", nt.FirstDue)
	}

	return nt, nil
}

func (s *Service) CompleteTask(ctx context.Context, caller task.CallerContext, in CompleteTaskInput) (out *CompleteTaskOutput, err error) {
	start := time.Now()
	defer func() { s.record("complete", start, err) }()

	if !caller.CanWrite() {
		return nil, apperr.Forbidden(nil)
	}

	c, err := validateCompletion(in)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.CompleteTask(ctx, caller.ActiveHomeID, c)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CompleteNotFound, fmt.Errorf("task %d: %w", in.TaskID, err))
	}
	if errors.Is(err, repository.ErrDateOutOfRange) {
		return nil, apperr.Validation(apperr.CompleteBadDate, err)
	}
	if err != nil {
		return nil, apperr.Failed(apperr.CompleteFailed, err)
	}

	offset := 0
	if res.PreviousDue != nil {
		offset = int(c.CompletedOn.Sub(res.PreviousDue.Time).Hours() / 24)
	}
	metrics.RecordTaskCompleted(string(res.Frequency.Unit), offset, res.PreviousDue != nil)

	s.log.Info().
		Int64("task_id", c.TaskID).
		Int64("home_id", caller.ActiveHomeID).
		Int64("history_id", res.HistoryID).
		Str("completed_on", c.CompletedOn.String()).
		Str("due_date", res.NextDue.String()).
		Msg("task completed")

	return &CompleteTaskOutput{HistoryID: res.HistoryID, DueDate: res.NextDue}, nil
}

func validateCompletion(in CompleteTaskInput) (task.Completion, error) {
	completedOn := strings.TrimSpace(in.CompletedOn)
	if in.TaskID <= 0 || in.ItemID < 0 || completedOn == "" {
		return task.Completion{}, apperr.Validation(apperr.CompleteInvalid, errors.New("task id and completion date are required"))
	}

	d, err := date.Parse(completedOn)
	if err != nil {
		return task.Completion{}, apperr.Validation(apperr.CompleteBadDate, err)
	}

	if in.Cost != nil && (*in.Cost < 0 || math.IsNaN(*in.Cost) || math.IsInf(*in.Cost, 0)) {
		return task.Completion{}, apperr.Validation(apperr.CompleteInvalid, fmt.Errorf("invalid cost %v", *in.Cost))
	}

	c := task.Completion{
		TaskID:      in.TaskID,
		ItemID:      in.ItemID,
		CompletedOn: d,
		Cost:        in.Cost,
	}
	if note := strings.TrimSpace(in.Note); note != "" {
		c.Note = &note
	}
	if path := strings.TrimSpace(in.PhotoPath); path != "" {
		c.PhotoPath = &path
	}

	return c, nil
}

// TasksDueInRange returns the home's scheduled tasks with a due date in
// [start, end], grouped by due date. Each group is ordered by task name.
func (s *Service) TasksDueInRange(ctx context.Context, caller task.CallerContext, start, end date.Date) (byDate map[date.Date][]task.Summary, err error) {
	began := time.Now()
	defer func() { s.record("calendar_range", began, err) }()

	if end.Before(start) {
		return nil, apperr.Validation(apperr.InvalidDate, fmt.Errorf("range end %s before start %s", end, start))
	}

	rows, err := s.repo.TasksDueInRange(ctx, caller.ActiveHomeID, start, end)
	if err != nil {
		return nil, apperr.Failed(apperr.CalendarFailed, err)
	}

	byDate = make(map[date.Date][]task.Summary)
	for _, r := range rows {
		byDate[r.DueDate] = append(byDate[r.DueDate], r)
	}

	metrics.RecordCalendarQuery("range", len(rows))
	return byDate, nil
}

// MonthCalendar is TasksDueInRange over one whole calendar month.
func (s *Service) MonthCalendar(ctx context.Context, caller task.CallerContext, year, month int) (map[date.Date][]task.Summary, error) {
	if year < minCalendarYear || year > 9999 || month < 1 || month > 12 {
		err := apperr.Validation(apperr.InvalidMonth, fmt.Errorf("invalid year/month %d/%d", year, month))
		s.record("calendar_range", time.Now(), err)
		return nil, err
	}

	start, end := date.MonthRange(year, time.Month(month))
	return s.TasksDueInRange(ctx, caller, start, end)
}

// TasksDueOn returns the home's tasks due on a single day ordered by name.
func (s *Service) TasksDueOn(ctx context.Context, caller task.CallerContext, day date.Date) (tasks []task.Summary, err error) {
	began := time.Now()
	defer func() { s.record("calendar_day", began, err) }()

	tasks, err = s.repo.TasksDueOn(ctx, caller.ActiveHomeID, day)
	if err != nil {
		return nil, apperr.Failed(apperr.CalendarFailed, err)
	}

	metrics.RecordCalendarQuery("day", len(tasks))
	return tasks, nil
}

// DayCalendar parses a YYYY-MM-DD string and delegates to TasksDueOn.
func (s *Service) DayCalendar(ctx context.Context, caller task.CallerContext, day string) ([]task.Summary, error) {
	d, err := date.Parse(day)
	if err != nil {
		return nil, apperr.Validation(apperr.InvalidDate, err)
	}

	return s.TasksDueOn(ctx, caller, d)
}

func (s *Service) ItemTasks(ctx context.Context, caller task.CallerContext, itemID int64) (tasks []task.ItemTask, err error) {
	began := time.Now()
	defer func() { s.record("item_tasks", began, err) }()

	if err := s.checkItem(ctx, caller, itemID); err != nil {
		return nil, err
	}

	tasks, err = s.repo.ItemTasks(ctx, caller.ActiveHomeID, itemID)
	if err != nil {
		return nil, apperr.Failed(apperr.ItemFailed, err)
	}

	return tasks, nil
}

func (s *Service) ItemHistory(ctx context.Context, caller task.CallerContext, itemID int64) (history []task.HistoryEntry, err error) {
	began := time.Now()
	defer func() { s.record("item_history", began, err) }()

	if err := s.checkItem(ctx, caller, itemID); err != nil {
		return nil, err
	}

	history, err = s.repo.ItemHistory(ctx, caller.ActiveHomeID, itemID)
	if err != nil {
		return nil, apperr.Failed(apperr.ItemFailed, err)
	}

	return history, nil
}

func (s *Service) checkItem(ctx context.Context, caller task.CallerContext, itemID int64) error {
	if itemID <= 0 {
		return apperr.Validation(apperr.BadRequest, errors.New("item id is required"))
	}

	ok, err := s.repo.ItemInHome(ctx, itemID, caller.ActiveHomeID)
	if err != nil {
		return apperr.Failed(apperr.ItemFailed, err)
	}
	if !ok {
		return apperr.NotFound(apperr.ItemNotFound, fmt.Errorf("item %d", itemID))
	}

	return nil
}

// record emits the operation metric and logs failures. Validation and
// scope errors are expected traffic and logged at debug level.
func (s *Service) record(op string, start time.Time, err error) {
	if err == nil {
		metrics.RecordOperation(op, time.Since(start), "")
		return
	}

	code := apperr.CodeOf(err)
	metrics.RecordOperation(op, time.Since(start), code)

	event := s.log.Debug()
	if apperr.KindOf(err) == apperr.KindOperationFailed {
		event = s.log.Error()
		if errors.Is(err, repository.ErrLockTimeout) {
			event = s.log.Warn()
		}
	}

	event.Err(err).Str("operation", op).Str("code", code).Msg("operation rejected")
}
