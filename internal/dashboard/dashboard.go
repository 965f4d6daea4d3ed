// Package dashboard serves the maintenance calendar views of the caller's
// active home.
package dashboard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nadmax/tickler/internal/apperr"
	"github.com/nadmax/tickler/internal/date"
	"github.com/nadmax/tickler/internal/httputil"
	"github.com/nadmax/tickler/internal/task"
)

type Calendar interface {
	MonthCalendar(ctx context.Context, caller task.CallerContext, year, month int) (map[date.Date][]task.Summary, error)
	DayCalendar(ctx context.Context, caller task.CallerContext, day string) ([]task.Summary, error)
}

type Dashboard struct {
	calendar Calendar
}

type DayResponse struct {
	Tasks []task.Summary `json:"tasks"`
}

func NewDashboard(c Calendar) *Dashboard {
	return &Dashboard{calendar: c}
}

// GetMonth writes the month's tasks keyed by due date. Dates with nothing
// due are absent.
func (d *Dashboard) GetMonth(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	q := r.URL.Query()
	year, errY := strconv.Atoi(q.Get("year"))
	month, errM := strconv.Atoi(q.Get("month"))
	if errY != nil || errM != nil {
		httputil.WriteJSONError(w, apperr.InvalidMonth, http.StatusBadRequest)
		return
	}

	byDate, err := d.calendar.MonthCalendar(r.Context(), caller, year, month)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, byDate)
}

func (d *Dashboard) GetDay(w http.ResponseWriter, r *http.Request, caller task.CallerContext) {
	tasks, err := d.calendar.DayCalendar(r.Context(), caller, r.URL.Query().Get("date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, DayResponse{Tasks: tasks})
}
