package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/starfederation/datastar-go/datastar"

	"tasksync/calendar"
	"tasksync/domain"
)

func (s *server) monthGrid(ctx context.Context, month string) (calendar.Month, string, error) {
	m, err := s.feed.Month(ctx, calendar.ParseMonth(month, time.Now()))
	if err != nil {
		return calendar.Month{}, "", err
	}
	html, err := s.views.CalendarGrid(m)
	return m, html, err
}

// calendarPage shows one month of due tasks. A missing or malformed month
// falls back to the current one.
func (s *server) calendarPage(c echo.Context) error {
	ctx := c.Request().Context()
	m, grid, err := s.monthGrid(ctx, c.QueryParam("month"))
	if err != nil {
		return s.failure(c, err)
	}
	if modeOf(c) == modeDatastar {
		return datastar.NewSSE(c.Response(), c.Request()).PatchElements(grid)
	}
	html, err := s.views.CalendarPage(m)
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

// dropOnCalendar reschedules a task dragged onto another day. Only the due
// date is taken from the request. The answer is always the month re-read from
// the store, so a rejected drop puts the event back where it was.
func (s *server) dropOnCalendar(c echo.Context, id string, fields domain.Fields, month string) error {
	ctx := c.Request().Context()
	if _, err := s.tasks.Update(ctx, id, domain.Fields{DueDate: fields.DueDate}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"id": id, "month": month}).Warn("calendar reschedule rejected")
	}
	_, grid, err := s.monthGrid(ctx, month)
	if err != nil {
		return s.failure(c, err)
	}
	return datastar.NewSSE(c.Response(), c.Request()).PatchElements(grid)
}

// streamCalendar keeps a month grid live. Every change re-renders the whole
// month since an update may move a task in or out of it.
func (s *server) streamCalendar(c echo.Context) error {
	sub := s.hub.Subscribe(domain.TasksTopic)
	defer sub.Close()

	month := c.QueryParam("month")
	_, grid, err := s.monthGrid(c.Request().Context(), month)
	if err != nil {
		s.logger.WithError(err).Error("calendar stream resync")
		return c.String(http.StatusInternalServerError, "failed to load calendar")
	}
	sse := datastar.NewSSE(c.Response(), c.Request())
	if err := sse.PatchElements(grid); err != nil {
		return nil
	}
	logger := s.logger.WithFields(log.Fields{"remote": c.RealIP(), "month": month})

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-sse.Context().Done():
			return nil
		case <-keepAlive.C:
			if err := sse.PatchSignals([]byte(`{}`)); err != nil {
				return nil
			}
		case _, ok := <-sub.Events():
			if !ok {
				logger.Warn("calendar subscriber dropped")
				return nil
			}
			_, grid, err := s.monthGrid(sse.Context(), month)
			if err != nil {
				logger.WithError(err).Error("calendar refresh")
				continue
			}
			if err := sse.PatchElements(grid); err != nil {
				return nil
			}
		}
	}
}

func (s *server) getEvents(c echo.Context) (err error) {
	if !wantsJSON(c.Request()) {
		return c.String(http.StatusNotAcceptable, "calendar events are only available as JSON")
	}
	ctx := c.Request().Context()
	metrics, spanCtx := newRequestMetrics(ctx, s.logger, feedEventName, "/tasks/events")
	c.SetRequest(c.Request().WithContext(spanCtx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	r := domain.ParseDateRange(c.QueryParam("start"), c.QueryParam("end"))
	metrics.Set("start_provided", r.Start != nil)
	metrics.Set("end_provided", r.End != nil)

	fetchStart := time.Now()
	events, fetchErr := s.feed.Events(spanCtx, r)
	metrics.Observe("fetch", time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		s.logger.WithError(fetchErr).Error("calendar events")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load events"})
	}
	metrics.SetResults(len(events))
	return c.JSON(http.StatusOK, events)
}
