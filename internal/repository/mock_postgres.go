package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/task"
)

// MockItem is an item row owned by a home.
type MockItem struct {
	HomeID int64
	Name   string
}

// MockPostgresRepository is an in-memory MaintenanceRepository. Completions
// of the same task are serialised by a per-task mutex, mirroring the row
// lock taken by the Postgres implementation.
type MockPostgresRepository struct {
	mu        sync.Mutex
	taskLocks map[int64]*sync.Mutex
	nextID    int64

	Items       map[int64]MockItem
	Tasks       map[int64]*task.Task
	Schedules   map[int64]date.Date
	ScheduleIDs map[int64]int64
	History     []task.HistoryEntry
	Roles       map[[2]int64]task.Role

	CreateTaskCalls   []task.NewTask
	CompleteTaskCalls []task.Completion

	// AfterLock runs while a completion holds the task lock, before any
	// write. Tests use it to force interleavings.
	AfterLock func(taskID int64)

	CreateTaskError   error
	CompleteTaskError error
	QueryError        error
	RoleError         error
	Now               func() time.Time
}

func NewMockPostgresRepository() *MockPostgresRepository {
	return &MockPostgresRepository{
		taskLocks:   make(map[int64]*sync.Mutex),
		Items:       make(map[int64]MockItem),
		Tasks:       make(map[int64]*task.Task),
		Schedules:   make(map[int64]date.Date),
		ScheduleIDs: make(map[int64]int64),
		History:     make([]task.HistoryEntry, 0),
		Roles:       make(map[[2]int64]task.Role),
		Now:         time.Now,
	}
}

func (m *MockPostgresRepository) AddItem(itemID, homeID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Items[itemID] = MockItem{HomeID: homeID, Name: name}
}

func (m *MockPostgresRepository) SetRole(userID, homeID int64, role task.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Roles[[2]int64{userID, homeID}] = role
}

func (m *MockPostgresRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockPostgresRepository) CreateTask(_ context.Context, homeID int64, nt task.NewTask) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateTaskCalls = append(m.CreateTaskCalls, nt)

	item, ok := m.Items[nt.ItemID]
	if !ok || item.HomeID != homeID {
		return 0, ErrNotFound
	}

	if m.CreateTaskError != nil {
		return 0, m.CreateTaskError
	}

	t := &task.Task{
		ID:        m.id(),
		ItemID:    nt.ItemID,
		Name:      nt.Name,
		Frequency: nt.Frequency,
		Priority:  nt.Priority,
		CreatedAt: m.Now(),
	}
	if nt.Description != nil {
		t.Description = *nt.Description
	}

	m.Tasks[t.ID] = t
	m.Schedules[t.ID] = nt.FirstDue
	m.ScheduleIDs[t.ID] = m.id()

	return t.ID, nil
}

func (m *MockPostgresRepository) lockFor(taskID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.taskLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.taskLocks[taskID] = l
	}

	return l
}

func (m *MockPostgresRepository) CompleteTask(_ context.Context, homeID int64, c task.Completion) (*CompletionResult, error) {
	l := m.lockFor(c.TaskID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	m.CompleteTaskCalls = append(m.CompleteTaskCalls, c)
	t, ok := m.Tasks[c.TaskID]
	inScope := ok && m.Items[t.ItemID].HomeID == homeID && (c.ItemID == 0 || c.ItemID == t.ItemID)
	var freq task.Frequency
	if inScope {
		freq = t.Frequency
	}
	m.mu.Unlock()

	if !inScope {
		return nil, ErrNotFound
	}

	if m.AfterLock != nil {
		m.AfterLock(c.TaskID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CompleteTaskError != nil {
		return nil, m.CompleteTaskError
	}

	if freq.Next(c.CompletedOn).After(date.Max) {
		return nil, ErrDateOutOfRange
	}

	completedOn := c.CompletedOn
	entry := task.HistoryEntry{
		ID:          m.id(),
		TaskID:      c.TaskID,
		TaskName:    t.Name,
		CompletedOn: &completedOn,
		Note:        c.Note,
		Cost:        c.Cost,
		CreatedAt:   m.Now(),
		Photos:      []string{},
	}
	if c.PhotoPath != nil {
		entry.Photos = append(entry.Photos, *c.PhotoPath)
	}
	m.History = append(m.History, entry)

	res := &CompletionResult{HistoryID: entry.ID, Frequency: freq, NextDue: freq.Next(c.CompletedOn)}
	if prev, ok := m.Schedules[c.TaskID]; ok {
		res.PreviousDue = &prev
	} else {
		m.ScheduleIDs[c.TaskID] = m.id()
	}
	m.Schedules[c.TaskID] = res.NextDue

	return res, nil
}

func (m *MockPostgresRepository) summaries(homeID int64, match func(date.Date) bool) []task.Summary {
	out := make([]task.Summary, 0)
	for taskID, due := range m.Schedules {
		t := m.Tasks[taskID]
		item := m.Items[t.ItemID]
		if item.HomeID != homeID || !match(due) {
			continue
		}

		s := task.Summary{
			ScheduleID: m.ScheduleIDs[taskID],
			DueDate:    due,
			TaskID:     t.ID,
			TaskName:   t.Name,
			Priority:   t.Priority,
			ItemName:   item.Name,
			ItemID:     t.ItemID,
		}
		if t.Description != "" {
			desc := t.Description
			s.Description = &desc
		}

		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if out[i].TaskName != out[j].TaskName {
			return out[i].TaskName < out[j].TaskName
		}
		return out[i].TaskID < out[j].TaskID
	})

	return out
}

func (m *MockPostgresRepository) TasksDueInRange(_ context.Context, homeID int64, start, end date.Date) ([]task.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	return m.summaries(homeID, func(d date.Date) bool {
		return !d.Before(start) && !d.After(end)
	}), nil
}

func (m *MockPostgresRepository) TasksDueOn(_ context.Context, homeID int64, day date.Date) ([]task.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	return m.summaries(homeID, day.Equal), nil
}

func (m *MockPostgresRepository) ItemInHome(_ context.Context, itemID, homeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return false, m.QueryError
	}

	item, ok := m.Items[itemID]
	return ok && item.HomeID == homeID, nil
}

func (m *MockPostgresRepository) ItemTasks(_ context.Context, homeID, itemID int64) ([]task.ItemTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	out := make([]task.ItemTask, 0)
	if m.Items[itemID].HomeID != homeID {
		return out, nil
	}

	for _, t := range m.Tasks {
		if t.ItemID != itemID {
			continue
		}

		it := task.ItemTask{Task: *t}
		if due, ok := m.Schedules[t.ID]; ok {
			it.NextDue = &due
		}
		out = append(out, it)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	return out, nil
}

func (m *MockPostgresRepository) ItemHistory(_ context.Context, homeID, itemID int64) ([]task.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	out := make([]task.HistoryEntry, 0)
	if m.Items[itemID].HomeID != homeID {
		return out, nil
	}

	for _, h := range m.History {
		if t, ok := m.Tasks[h.TaskID]; ok && t.ItemID == itemID {
			out = append(out, h)
		}
	}

	// completed_on DESC NULLS LAST, id DESC
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CompletedOn, out[j].CompletedOn
		switch {
		case ci == nil && cj == nil:
		case ci == nil:
			return false
		case cj == nil:
			return true
		case !ci.Equal(*cj):
			return ci.After(*cj)
		}
		return out[i].ID > out[j].ID
	})

	return out, nil
}

func (m *MockPostgresRepository) RoleOnHome(_ context.Context, userID, homeID int64) (task.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RoleError != nil {
		return "", m.RoleError
	}

	if role, ok := m.Roles[[2]int64{userID, homeID}]; ok {
		return role, nil
	}

	return task.RoleViewer, nil
}

// HistoryFor returns the recorded entries of one task in commit order.
func (m *MockPostgresRepository) HistoryFor(taskID int64) []task.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []task.HistoryEntry
	for _, h := range m.History {
		if h.TaskID == taskID {
			out = append(out, h)
		}
	}

	return out
}

func (m *MockPostgresRepository) DueDate(taskID int64) (date.Date, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.Schedules[taskID]
	return d, ok
}

func (m *MockPostgresRepository) Ping(context.Context) error { return nil }

func (m *MockPostgresRepository) Close() error { return nil }
