package platformapi

import (
	"net/http"
	"time"

	"flowcore.dev/apperr"
	"flowcore.dev/runs"
	"flowcore.dev/scheduler"
	"github.com/labstack/echo/v4"
)

// scheduledTaskInput is the request body for create/update.
type scheduledTaskInput struct {
	Name               string          `json:"name"`
	TaskType           string          `json:"task_type"`
	ScheduleExpression string          `json:"schedule_expression"`
	Enabled            *bool           `json:"enabled"`
	ScopeType          string          `json:"scope_type"`
	OrganizationID     *string         `json:"organization_id"`
	Config             runs.JSONMap    `json:"config"`
}

func (h *Handlers) ListScheduledTasks(c echo.Context) error {
	out, err := h.Tasks.List(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateScheduledTask(c echo.Context) error {
	var in scheduledTaskInput
	if err := c.Bind(&in); err != nil {
		return jsonError(c, apperr.InvalidInput("invalid request body"))
	}
	if in.Name == "" || in.ScheduleExpression == "" {
		return jsonError(c, apperr.InvalidInput("name and schedule_expression are required"))
	}
	if _, err := scheduler.NextRunAt(in.ScheduleExpression, time.Now().UTC()); err != nil {
		return jsonError(c, apperr.InvalidInput("invalid schedule_expression: %v", err))
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	next, _ := scheduler.NextRunAt(in.ScheduleExpression, time.Now().UTC())
	t := &scheduler.ScheduledTask{
		Name:               in.Name,
		TaskType:           scheduler.TaskType(in.TaskType),
		ScheduleExpression: in.ScheduleExpression,
		Enabled:            enabled,
		ScopeType:          scheduler.ScopeType(in.ScopeType),
		OrganizationID:     in.OrganizationID,
		Config:             in.Config,
		NextRunAt:          &next,
	}
	if err := h.Tasks.Create(c.Request().Context(), t); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handlers) UpdateScheduledTask(c echo.Context) error {
	t, err := h.Tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	var in scheduledTaskInput
	if err := c.Bind(&in); err != nil {
		return jsonError(c, apperr.InvalidInput("invalid request body"))
	}
	if in.ScheduleExpression != "" {
		if _, err := scheduler.NextRunAt(in.ScheduleExpression, time.Now().UTC()); err != nil {
			return jsonError(c, apperr.InvalidInput("invalid schedule_expression: %v", err))
		}
		t.ScheduleExpression = in.ScheduleExpression
		next, _ := scheduler.NextRunAt(t.ScheduleExpression, time.Now().UTC())
		t.NextRunAt = &next
	}
	if in.Name != "" {
		t.Name = in.Name
	}
	if in.TaskType != "" {
		t.TaskType = scheduler.TaskType(in.TaskType)
	}
	if in.Config != nil {
		t.Config = in.Config
	}
	if err := h.Tasks.Update(c.Request().Context(), t); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handlers) TriggerScheduledTaskNow(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	t, err := h.Tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	run, err := h.Dispatcher.TriggerNow(c.Request().Context(), t, org)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

func (h *Handlers) EnableScheduledTask(c echo.Context) error {
	return h.setEnabled(c, true)
}

func (h *Handlers) DisableScheduledTask(c echo.Context) error {
	return h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c echo.Context, enabled bool) error {
	t, err := h.Tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	t.Enabled = enabled
	if err := h.Tasks.Update(c.Request().Context(), t); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
