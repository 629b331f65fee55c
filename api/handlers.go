package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/starfederation/datastar-go/datastar"

	"tasksync/domain"
	"tasksync/render"
)

type errorsResponse struct {
	Errors domain.ValidationErrors `json:"errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type duplicateResponse struct {
	Error  string `json:"error"`
	TaskID string `json:"task_id"`
}

func (s *server) listTasks(c echo.Context) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newRequestMetrics(ctx, s.logger, listEventName, "/tasks")
	c.SetRequest(c.Request().WithContext(spanCtx))
	ctx = spanCtx
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	f := domain.FilterFromValues(c.QueryParams())
	metrics.Set("filtered", !f.IsZero())
	metrics.Set("query_provided", f.Query != "")

	fetchStart := time.Now()
	tasks, fetchErr := s.tasks.List(ctx, f)
	metrics.Observe("fetch", time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		s.logger.WithError(fetchErr).Error("list tasks")
		return c.String(http.StatusInternalServerError, "failed to list tasks")
	}
	metrics.SetResults(len(tasks))

	encodeStart := time.Now()
	defer func() { metrics.Observe("encode", time.Since(encodeStart)) }()
	switch modeOf(c) {
	case modeJSON:
		return c.JSON(http.StatusOK, tasks)
	case modeDatastar:
		html, err := s.views.List(tasks)
		if err != nil {
			metrics.SetErrorStage("render")
			return err
		}
		return datastar.NewSSE(c.Response(), c.Request()).PatchElements(html)
	}
	html, err := s.views.IndexPage(render.IndexView{Tasks: tasks, Filter: f})
	if err != nil {
		metrics.SetErrorStage("render")
		return err
	}
	return c.HTML(http.StatusOK, html)
}

func (s *server) getTask(c echo.Context) error {
	t, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	switch modeOf(c) {
	case modeJSON:
		return c.JSON(http.StatusOK, t)
	case modeDatastar:
		html, err := s.views.Detail(t)
		if err != nil {
			return err
		}
		return patchRegion(datastar.NewSSE(c.Response(), c.Request()), html)
	}
	html, err := s.views.DetailPage(t)
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

// detailPartial always answers with the bare detail markup.
func (s *server) detailPartial(c echo.Context) error {
	t, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	html, err := s.views.Detail(t)
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

func (s *server) newForm(c echo.Context) error {
	return s.showForm(c, render.FormView{
		Task: domain.Task{Status: domain.StatusOpen, Priority: domain.PriorityMedium},
	})
}

func (s *server) editForm(c echo.Context) error {
	t, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.failure(c, err)
	}
	return s.showForm(c, render.FormView{Task: t})
}

func (s *server) showForm(c echo.Context, v render.FormView) error {
	if modeOf(c) == modeDatastar {
		html, err := s.views.Form(v)
		if err != nil {
			return err
		}
		return patchRegion(datastar.NewSSE(c.Response(), c.Request()), html)
	}
	html, err := s.views.FormPage(v)
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

func (s *server) closeRegion(c echo.Context) error {
	if modeOf(c) == modeDatastar {
		return patchRegion(datastar.NewSSE(c.Response(), c.Request()), "")
	}
	return c.Redirect(http.StatusSeeOther, "/tasks")
}

func (s *server) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	fields, raw, err := bindFields(c)
	if err != nil {
		return s.badRequest(c, err)
	}

	key := c.Request().Header.Get("Idempotency-Key")
	if key != "" && s.createKeys != nil {
		id, claimed, kerr := s.createKeys.Claim(ctx, key)
		switch {
		case kerr != nil:
			s.logger.WithError(kerr).Warn("idempotency check unavailable")
			key = ""
		case !claimed:
			return s.replayCreate(c, id)
		}
	} else {
		key = ""
	}

	t, err := s.tasks.Create(ctx, fields)
	if err != nil {
		if key != "" {
			if rerr := s.createKeys.Release(ctx, key); rerr != nil {
				s.logger.WithError(rerr).WithField("key", key).Error("idempotency rollback failed")
			}
		}
		return s.mutationFailure(c, err, render.FormView{Values: raw})
	}
	if key != "" {
		if berr := s.createKeys.Bind(ctx, key, t.ID); berr != nil {
			s.logger.WithError(berr).WithFields(log.Fields{"key": key, "id": t.ID}).Warn("idempotency bind failed")
		}
	}

	switch modeOf(c) {
	case modeJSON:
		c.Response().Header().Set(echo.HeaderLocation, "/tasks/"+t.ID)
		return c.JSON(http.StatusCreated, t)
	case modeDatastar:
		return s.patchMutation(c, domain.Created, t)
	}
	return c.Redirect(http.StatusSeeOther, "/tasks")
}

// replayCreate answers a repeated Idempotency-Key with the task the first
// request created. A key whose create is still running, or whose task has
// since been deleted, is a conflict.
func (s *server) replayCreate(c echo.Context, id string) error {
	if id == "" {
		return c.JSON(http.StatusConflict, errorResponse{Error: "request in progress"})
	}
	t, err := s.tasks.Get(c.Request().Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusConflict, duplicateResponse{Error: "duplicate request", TaskID: id})
	}
	if err != nil {
		return s.failure(c, err)
	}
	c.Response().Header().Set("Idempotent-Replayed", "true")
	switch modeOf(c) {
	case modeJSON:
		c.Response().Header().Set(echo.HeaderLocation, "/tasks/"+t.ID)
		return c.JSON(http.StatusOK, t)
	case modeDatastar:
		return s.patchMutation(c, domain.Created, t)
	}
	return c.Redirect(http.StatusSeeOther, "/tasks")
}

func (s *server) updateTask(c echo.Context) error {
	fields, raw, err := bindFields(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	id := c.Param("id")
	if month := c.QueryParam("calendar"); month != "" && modeOf(c) == modeDatastar {
		return s.dropOnCalendar(c, id, fields, month)
	}
	t, err := s.tasks.Update(c.Request().Context(), id, fields)
	if err != nil {
		return s.mutationFailure(c, err, render.FormView{Task: t, Values: raw})
	}
	switch modeOf(c) {
	case modeJSON:
		return c.NoContent(http.StatusNoContent)
	case modeDatastar:
		return s.patchMutation(c, domain.Updated, t)
	}
	return c.Redirect(http.StatusSeeOther, "/tasks")
}

func (s *server) deleteTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.tasks.Delete(c.Request().Context(), id); err != nil {
		return s.failure(c, err)
	}
	switch modeOf(c) {
	case modeJSON:
		return c.NoContent(http.StatusNoContent)
	case modeDatastar:
		return s.patchMutation(c, domain.Deleted, domain.Task{ID: id})
	}
	return c.Redirect(http.StatusSeeOther, "/tasks")
}

// patchMutation answers a datastar mutation with the same instruction a push
// carries, then clears the detail region.
func (s *server) patchMutation(c echo.Context, kind domain.ChangeKind, t domain.Task) error {
	ev := domain.ChangeEvent{Kind: kind, SubjectID: t.ID}
	if kind != domain.Deleted {
		frag, err := s.views.Render(t)
		if err != nil {
			return err
		}
		ev.Task = &t
		ev.Fragment = &frag
	}
	sse := datastar.NewSSE(c.Response(), c.Request())
	if err := patchChange(sse, ev, domain.Filter{}); err != nil {
		return err
	}
	return patchRegion(sse, "")
}

func (s *server) badRequest(c echo.Context, err error) error {
	status := http.StatusBadRequest
	if errors.Is(err, errTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	if modeOf(c) == modeJSON {
		return c.JSON(status, errorResponse{Error: err.Error()})
	}
	return c.String(status, err.Error())
}

// mutationFailure reports validation errors back to the requester; other
// errors go through failure.
func (s *server) mutationFailure(c echo.Context, err error, v render.FormView) error {
	verrs, ok := domain.AsValidation(err)
	if !ok {
		return s.failure(c, err)
	}
	v.Errors = verrs
	switch modeOf(c) {
	case modeJSON:
		return c.JSON(http.StatusUnprocessableEntity, errorsResponse{Errors: verrs})
	case modeDatastar:
		html, rerr := s.views.Form(v)
		if rerr != nil {
			return rerr
		}
		return patchRegion(datastar.NewSSE(c.Response(), c.Request()), html)
	}
	html, rerr := s.views.FormPage(v)
	if rerr != nil {
		return rerr
	}
	return c.HTML(http.StatusUnprocessableEntity, html)
}

func (s *server) failure(c echo.Context, err error) error {
	status, msg := http.StatusInternalServerError, "internal error"
	if errors.Is(err, domain.ErrNotFound) {
		status, msg = http.StatusNotFound, "task not found"
	} else {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
		}).Error("request failed")
	}
	if modeOf(c) == modeJSON {
		return c.JSON(status, errorResponse{Error: msg})
	}
	return c.String(status, msg)
}
