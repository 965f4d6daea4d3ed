package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/tickler/internal/maintenance"
	"github.com/nadmax/tickler/internal/repository"
	"github.com/nadmax/tickler/internal/session"
	"github.com/nadmax/tickler/internal/task"
)

const (
	ownerID  = int64(1)
	viewerID = int64(2)
	homeID   = int64(10)
)

type testEnv struct {
	api      *API
	repo     *repository.MockPostgresRepository
	sessions *session.Store
	mr       *miniredis.Miniredis
	owner    string
	viewer   string
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	sessions, err := session.NewStore(mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	repo := repository.NewMockPostgresRepository()
	repo.AddItem(100, homeID, "Furnace")
	repo.AddItem(200, 20, "Boiler")
	repo.SetRole(ownerID, homeID, task.RoleOwner)

	env := &testEnv{repo: repo, sessions: sessions, mr: mr, owner: uuid.NewString(), viewer: uuid.NewString()}
	ctx := context.Background()
	require.NoError(t, sessions.Save(ctx, session.Session{ID: env.owner, UserID: ownerID, ActiveHomeID: homeID}))
	require.NoError(t, sessions.Save(ctx, session.Session{ID: env.viewer, UserID: viewerID, ActiveHomeID: homeID}))

	clock := func() time.Time { return time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC) }
	svc := maintenance.NewService(repo, zerolog.Nop(), maintenance.WithClock(clock))
	env.api = NewAPI(svc, sessions, repo, zerolog.Nop())

	return env
}

func (e *testEnv) do(req *http.Request, sessionID string) *httptest.ResponseRecorder {
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionID})
	}
	w := httptest.NewRecorder()
	e.api.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, path string, body any, sessionID string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, sessionID)
}

func (e *testEnv) get(path, sessionID string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), sessionID)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func (e *testEnv) createTask(t *testing.T, first string) int64 {
	t.Helper()

	w := e.postJSON(t, "/api/tasks", CreateTaskRequest{
		ItemID: 100, TaskName: "Replace filter", FrequencyValue: 3, FrequencyUnit: "months", FirstDueDate: first,
	}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp TaskAddedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.TaskID
}

func TestCreateTask(t *testing.T) {
	env := setupTestAPI(t)

	w := env.postJSON(t, "/api/tasks", CreateTaskRequest{
		ItemID: 100, TaskName: "Replace filter", FrequencyValue: 3, FrequencyUnit: "months", Priority: "high", FirstDueDate: "2024-06-01",
	}, env.owner)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp TaskAddedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "task_added", resp.Status)
	assert.Equal(t, "2024-06-01", resp.DueDate)
	assert.NotZero(t, resp.TaskID)
}

func TestCreateTask_FormDefaults(t *testing.T) {
	env := setupTestAPI(t)

	form := url.Values{
		"item_id":         {"100"},
		"task_name":       {"Service furnace"},
		"frequency_value": {"1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req, env.owner)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp TaskAddedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2024-06-20", resp.DueDate)

	created := env.repo.Tasks[resp.TaskID]
	assert.Equal(t, task.PriorityMedium, created.Priority)
	assert.Equal(t, "months", string(created.Frequency.Unit))
}

func TestCreateTask_Errors(t *testing.T) {
	env := setupTestAPI(t)

	tests := []struct {
		name    string
		body    string
		ctype   string
		session string
		status  int
		code    string
	}{
		{"malformed json", `{"item_id":`, "application/json", env.owner, http.StatusBadRequest, "bad_request"},
		{"non numeric form id", "item_id=abc&task_name=x&frequency_value=1", "application/x-www-form-urlencoded", env.owner, http.StatusBadRequest, "bad_request"},
		{"invalid unit", `{"item_id":100,"task_name":"x","frequency_value":1,"frequency_unit":"hours"}`, "application/json", env.owner, http.StatusBadRequest, "task_invalid"},
		{"other home item", `{"item_id":200,"task_name":"x","frequency_value":1}`, "application/json", env.owner, http.StatusNotFound, "task_not_found"},
		{"viewer", `{"item_id":100,"task_name":"x","frequency_value":1}`, "application/json", env.viewer, http.StatusForbidden, "unauthorized"},
		{"no session", `{"item_id":100,"task_name":"x","frequency_value":1}`, "application/json", "", http.StatusUnauthorized, "not_logged_in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ctype)
			w := env.do(req, tt.session)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	assert.Empty(t, env.repo.Tasks)
}

func TestCreateTask_StoreErrorHidden(t *testing.T) {
	env := setupTestAPI(t)
	env.repo.CreateTaskError = errors.New("pq: duplicate key value violates unique constraint")

	w := env.postJSON(t, "/api/tasks", CreateTaskRequest{ItemID: 100, TaskName: "x", FrequencyValue: 1}, env.owner)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "task_add_failed", errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "pq")
}

func TestCompleteTask(t *testing.T) {
	env := setupTestAPI(t)
	taskID := env.createTask(t, "2024-06-01")

	cost := 12.5
	w := env.postJSON(t, "/api/tasks/complete", CompleteTaskRequest{
		TaskID: taskID, ItemID: 100, CompletedOn: "2024-06-01", Note: "done", Cost: &cost,
	}, env.owner)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CompletedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "2024-09-01", resp.DueDate)
	assert.Len(t, env.repo.HistoryFor(taskID), 1)
}

func TestCompleteTask_Form(t *testing.T) {
	env := setupTestAPI(t)
	taskID := env.createTask(t, "2024-06-01")

	form := url.Values{
		"task_id":      {jsonInt(taskID)},
		"item_id":      {"100"},
		"completed_on": {"2024-06-03"},
		"cost":         {"40"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/complete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req, env.owner)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	history := env.repo.HistoryFor(taskID)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Cost)
	assert.InDelta(t, 40.0, *history[0].Cost, 0.001)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCompleteTask_Errors(t *testing.T) {
	env := setupTestAPI(t)
	taskID := env.createTask(t, "2024-06-01")

	tests := []struct {
		name    string
		req     CompleteTaskRequest
		session string
		status  int
		code    string
	}{
		{"missing date", CompleteTaskRequest{TaskID: taskID}, env.owner, http.StatusBadRequest, "complete_invalid"},
		{"bad date", CompleteTaskRequest{TaskID: taskID, CompletedOn: "2024-02-30"}, env.owner, http.StatusBadRequest, "complete_bad_date"},
		{"unknown task", CompleteTaskRequest{TaskID: taskID + 1000, CompletedOn: "2024-06-01"}, env.owner, http.StatusNotFound, "complete_not_found"},
		{"wrong item", CompleteTaskRequest{TaskID: taskID, ItemID: 200, CompletedOn: "2024-06-01"}, env.owner, http.StatusNotFound, "complete_not_found"},
		{"viewer", CompleteTaskRequest{TaskID: taskID, CompletedOn: "2024-06-01"}, env.viewer, http.StatusForbidden, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postJSON(t, "/api/tasks/complete", tt.req, tt.session)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	assert.Empty(t, env.repo.HistoryFor(taskID))
}

func TestCalendar(t *testing.T) {
	env := setupTestAPI(t)
	taskID := env.createTask(t, "2024-06-15")

	w := env.get("/api/calendar/month?year=2024&month=6", env.viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var month map[string][]task.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &month))
	require.Len(t, month["2024-06-15"], 1)
	assert.Equal(t, taskID, month["2024-06-15"][0].TaskID)
	assert.Equal(t, "Furnace", month["2024-06-15"][0].ItemName)

	w = env.get("/api/calendar/day?date=2024-06-15", env.viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var day struct {
		Tasks []task.Summary `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &day))
	assert.Len(t, day.Tasks, 1)

	w = env.get("/api/calendar/month?year=2024&month=13", env.viewer)
	assert.Equal(t, "invalid_month", errorCode(t, w))

	w = env.get("/api/calendar/day?date=15-06-2024", env.viewer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_date", errorCode(t, w))
}

func TestSessionStates(t *testing.T) {
	env := setupTestAPI(t)

	w := env.get("/api/calendar/day?date=2024-06-15", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_logged_in", errorCode(t, w))

	env.mr.HSet("session:homeless", "user_id", "5")
	w = env.get("/api/calendar/day?date=2024-06-15", "homeless")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no_active_home", errorCode(t, w))

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/day?date=2024-06-15", nil)
	req.Header.Set(session.HeaderName, env.owner)
	w = env.do(req, "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.repo.RoleError = errors.New("pq: connection reset")
	w = env.get("/api/calendar/day?date=2024-06-15", env.owner)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorCode(t, w))
}

func TestItemViews(t *testing.T) {
	env := setupTestAPI(t)
	taskID := env.createTask(t, "2024-06-01")

	w := env.postJSON(t, "/api/tasks/complete", CompleteTaskRequest{TaskID: taskID, CompletedOn: "2024-06-02", PhotoPath: "uploads/a.jpg"}, env.owner)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.get("/api/items/100/tasks", env.viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var tasks struct {
		Tasks []map[string]any `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "2024-09-02", tasks.Tasks[0]["next_due"])

	w = env.get("/api/items/100/history", env.viewer)
	require.Equal(t, http.StatusOK, w.Code)

	var history struct {
		History []task.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.History, 1)
	assert.Equal(t, []string{"uploads/a.jpg"}, history.History[0].Photos)

	w = env.get("/api/items/200/tasks", env.owner)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "item_not_found", errorCode(t, w))

	w = env.get("/api/items/abc/history", env.owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", errorCode(t, w))
}

func TestHealth(t *testing.T) {
	env := setupTestAPI(t)

	w := env.get("/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	env.mr.Close()
	w = env.get("/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"down"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	env.createTask(t, "2024-06-01")

	w := env.get("/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tickler_tasks_created_total")
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestAPI(t)

	w := env.get("/api/tasks/complete", env.owner)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
