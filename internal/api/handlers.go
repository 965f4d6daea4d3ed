package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nadmax/tickler/internal/apperr"
	"github.com/nadmax/tickler/internal/dashboard"
	"github.com/nadmax/tickler/internal/httputil"
	"github.com/nadmax/tickler/internal/maintenance"
	"github.com/nadmax/tickler/internal/session"
	"github.com/nadmax/tickler/internal/task"
)

const maxBodyBytes = 64 << 10

type SessionStore interface {
	Lookup(ctx context.Context, id string) (*session.Session, error)
	Ping(ctx context.Context) error
}

type RoleStore interface {
	RoleOnHome(ctx context.Context, userID, homeID int64) (task.Role, error)
	Ping(ctx context.Context) error
}

type API struct {
	svc      *maintenance.Service
	sessions SessionStore
	roles    RoleStore
	log      zerolog.Logger
	mux      *http.ServeMux
}

type CreateTaskRequest struct {
	ItemID         int64  `json:"item_id"`
	TaskName       string `json:"task_name"`
	Description    string `json:"description"`
	FrequencyValue int    `json:"frequency_value"`
	FrequencyUnit  string `json:"frequency_unit"`
	Priority       string `json:"priority"`
	FirstDueDate   string `json:"first_due_date"`
}

type CompleteTaskRequest struct {
	TaskID      int64    `json:"task_id"`
	ItemID      int64    `json:"item_id"`
	CompletedOn string   `json:"completed_on"`
	Note        string   `json:"note"`
	Cost        *float64 `json:"cost"`
	PhotoPath   string   `json:"photo_path"`
}

type TaskAddedResponse struct {
	Status  string `json:"status"`
	TaskID  int64  `json:"task_id"`
	DueDate string `json:"due_date"`
}

type CompletedResponse struct {
	Status  string `json:"status"`
	DueDate string `json:"due_date"`
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller task.CallerContext)

func NewAPI(svc *maintenance.Service, sessions SessionStore, roles RoleStore, log zerolog.Logger) *API {
	api := &API{
		svc:      svc,
		sessions: sessions,
		roles:    roles,
		log:      log,
		mux:      http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("POST /api/tasks", a.withCaller(a.createTask))
	a.mux.HandleFunc("POST /api/tasks/complete", a.withCaller(a.completeTask))

	dash := dashboard.NewDashboard(a.svc)
	a.mux.HandleFunc("GET /api/calendar/month", a.withCaller(dash.GetMonth))
	a.mux.HandleFunc("GET /api/calendar/day", a.withCaller(dash.GetDay))

	a.mux.HandleFunc("GET /api/items/{id}/tasks", a.withCaller(a.itemTasks))
	a.mux.HandleFunc("GET /api/items/{id}/history", a.withCaller(a.itemHistory))

	a.mux.HandleFunc("GET /healthz", a.health)
	a.mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// withCaller resolves the session and the caller's role on the active home
// before running h.
func (a *API) withCaller(h callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.sessions.Lookup(r.Context(), session.IDFromRequest(r))
		switch {
		case errors.Is(err, session.ErrNoSession):
			httputil.WriteJSONError(w, apperr.NotLoggedIn, http.StatusUnauthorized)
			return
		case errors.Is(err, session.ErrNoActiveHome):
			httputil.WriteJSONError(w, apperr.NoActiveHome, http.StatusBadRequest)
			return
		case err != nil:
			a.logger(r).Error().Err(err).Msg("failed to load session")
			httputil.WriteJSONError(w, apperr.Internal, http.StatusInternalServerError)
			return
		}

		role, err := a.roles.RoleOnHome(r.Context(), sess.UserID, sess.ActiveHomeID)
		if err != nil {
			a.logger(r).Error().Err(err).Int64("user_id", sess.UserID).Msg("failed to resolve role")
			httputil.WriteJSONError(w, apperr.Internal, http.StatusInternalServerError)
			return
		}

		h(w, r, task.CallerContext{UserID: sess.UserID, ActiveHomeID: sess.ActiveHomeID, Role: role})
	}
}

func (a *API) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}

	return &a.log
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	var req CreateTaskRequest
	if err := decodeBody(w, r, &req, func(f formValues) error {
		var err error
		if req.ItemID, err = f.int64Value("item_id"); err != nil {
			return err
		}
		if req.FrequencyValue, err = f.intValue("frequency_value"); err != nil {
			return err
		}
		req.TaskName = f.get("task_name")
		req.Description = f.get("description")
		req.FrequencyUnit = f.get("frequency_unit")
		req.Priority = f.get("priority")
		req.FirstDueDate = f.get("first_due_date")
		return nil
	}); err != nil {
		httputil.WriteJSONError(w, apperr.BadRequest, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.FrequencyUnit) == "" {
		req.FrequencyUnit = "months"
	}
	if strings.TrimSpace(req.Priority) == "" {
		req.Priority = string(task.PriorityMedium)
	}

	out, err := a.svc.CreateTask(r.Context(), caller, maintenance.CreateTaskInput{
		ItemID:         req.ItemID,
		Name:           req.TaskName,
		Description:    req.Description,
		FrequencyValue: req.FrequencyValue,
		FrequencyUnit:  strings.TrimSpace(req.FrequencyUnit),
		Priority:       strings.TrimSpace(req.Priority),
		FirstDueDate:   req.FirstDueDate,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, TaskAddedResponse{
		Status:  "task_added",
		TaskID:  out.TaskID,
		DueDate: out.DueDate.String(),
	})
}

func (a *API) completeTask(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	var req CompleteTaskRequest
	if err := decodeBody(w, r, &req, func(f formValues) error {
		var err error
		if req.TaskID, err = f.int64Value("task_id"); err != nil {
			return err
		}
		if req.ItemID, err = f.int64Value("item_id"); err != nil {
			return err
		}
		if req.Cost, err = f.floatValue("cost"); err != nil {
			return err
		}
		req.CompletedOn = f.get("completed_on")
		req.Note = f.get("note")
		req.PhotoPath = f.get("photo_path")
		return nil
	}); err != nil {
		httputil.WriteJSONError(w, apperr.BadRequest, http.StatusBadRequest)
		return
	}

	out, err := a.svc.CompleteTask(r.Context(), caller, maintenance.CompleteTaskInput{
		TaskID:      req.TaskID,
		ItemID:      req.ItemID,
		CompletedOn: req.CompletedOn,
		Note:        req.Note,
		Cost:        req.Cost,
		PhotoPath:   req.PhotoPath,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, CompletedResponse{
		Status:  "completed",
		DueDate: out.DueDate.String(),
	})
}

func (a *API) itemTasks(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	itemID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, apperr.BadRequest, http.StatusBadRequest)
		return
	}

	tasks, err := a.svc.ItemTasks(r.Context(), caller, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) itemHistory(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	itemID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, apperr.BadRequest, http.StatusBadRequest)
		return
	}

	history, err := a.svc.ItemHistory(r.Context(), caller, itemID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if err := a.roles.Ping(ctx); err != nil {
		a.logger(r).Warn().Err(err).Msg("postgres health check failed")
		status["status"], status["postgres"] = "unavailable", "down"
		code = http.StatusServiceUnavailable
	}
	if err := a.sessions.Ping(ctx); err != nil {
		a.logger(r).Warn().Err(err).Msg("redis health check failed")
		status["status"], status["redis"] = "unavailable", "down"
		code = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, code, status)
}

type formValues struct {
	r *http.Request
}

func (f formValues) get(key string) string {
	return f.r.PostFormValue(key)
}

func (f formValues) int64Value(key string) (int64, error) {
	v := strings.TrimSpace(f.get(key))
	if v == "" {
		return 0, nil
	}

	return strconv.ParseInt(v, 10, 64)
}

func (f formValues) intValue(key string) (int, error) {
	v := strings.TrimSpace(f.get(key))
	if v == "" {
		return 0, nil
	}

	return strconv.Atoi(v)
}

func (f formValues) floatValue(key string) (*float64, error) {
	v := strings.TrimSpace(f.get(key))
	if v == "" {
		return nil, nil
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}

	return &n, nil
}

// decodeBody reads a JSON body into dst, or hands form-encoded bodies to
// fromForm.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, fromForm func(formValues) error) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		dec := json.NewDecoder(r.Body)
		return dec.Decode(dst)
	}

	if err := r.ParseForm(); err != nil {
		return err
	}

	return fromForm(formValues{r: r})
}
