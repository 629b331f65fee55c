// Package api exposes the task store over HTTP: HTML pages, datastar
// fragment patches, JSON, and the SSE and websocket change streams.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"tasksync/calendar"
	"tasksync/domain"
	"tasksync/notify"
	"tasksync/render"
)

// Tasks is the task store used by the handlers.
type Tasks interface {
	List(ctx context.Context, f domain.Filter) ([]domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Create(ctx context.Context, fields domain.Fields) (domain.Task, error)
	Update(ctx context.Context, id string, fields domain.Fields) (domain.Task, error)
	Delete(ctx context.Context, id string) error
}

// Feed serves calendar events.
type Feed interface {
	Events(ctx context.Context, r domain.DateRange) ([]domain.CalendarEvent, error)
	Month(ctx context.Context, first domain.Date) (calendar.Month, error)
}

// Subscriber hands out change subscriptions.
type Subscriber interface {
	Subscribe(topic string) *notify.Subscription
}

type Option func(*server)

// WithCreateKeys enables Idempotency-Key handling on task creation.
func WithCreateKeys(k CreateKeys) Option {
	return func(s *server) { s.createKeys = k }
}

// WithKeepAlive sets the interval of keep-alive frames on push streams.
func WithKeepAlive(d time.Duration) Option {
	return func(s *server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

type server struct {
	tasks      Tasks
	feed       Feed
	hub        Subscriber
	views      *render.Renderer
	createKeys CreateKeys
	logger     *log.Logger
	keepAlive  time.Duration
}

// Configure installs the serializer and pre-routing middleware the routes
// rely on.
func Configure(e *echo.Echo) {
	e.JSONSerializer = sonicSerializer{}
	e.Pre(taskBodies(maxBodySize))
	e.Pre(middleware.MethodOverrideWithConfig(middleware.MethodOverrideConfig{
		Getter: func(c echo.Context) string {
			return strings.ToUpper(c.FormValue("_method"))
		},
	}))
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, tasks Tasks, feed Feed, hub Subscriber, views *render.Renderer, logger *log.Logger, opts ...Option) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &server{
		tasks:     tasks,
		feed:      feed,
		hub:       hub,
		views:     views,
		logger:    logger,
		keepAlive: 25 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}

	e.GET("/", func(c echo.Context) error { return c.Redirect(http.StatusFound, "/tasks") })
	e.GET("/healthz", s.healthz)

	e.GET("/tasks", s.listTasks)
	e.POST("/tasks", s.createTask)
	e.GET("/tasks/new", s.newForm)
	e.GET("/tasks/close", s.closeRegion)
	e.GET("/tasks/events", s.getEvents)
	e.GET("/tasks/calendar", s.calendarPage)
	e.GET("/tasks/calendar/stream", s.streamCalendar)
	e.GET("/tasks/stream", s.streamSSE)
	e.GET("/tasks/ws", s.streamWS)
	e.GET("/tasks/:id", s.getTask)
	e.GET("/tasks/:id/modal", s.detailPartial)
	e.GET("/tasks/:id/edit", s.editForm)
	e.PATCH("/tasks/:id", s.updateTask)
	e.PUT("/tasks/:id", s.updateTask)
	e.DELETE("/tasks/:id", s.deleteTask)
}

func (s *server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if _, err := s.tasks.Get(ctx, "healthz"); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WithError(err).Error("health check failed")
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return c.NoContent(http.StatusOK)
}

type responseMode int

const (
	modeHTML responseMode = iota
	modeJSON
	modeDatastar
)

// modeOf picks how to answer: datastar requests get SSE patches, JSON callers
// get JSON, everything else gets HTML.
func modeOf(c echo.Context) responseMode {
	req := c.Request()
	if strings.EqualFold(req.Header.Get("Datastar-Request"), "true") {
		return modeDatastar
	}
	if wantsJSON(req) {
		return modeJSON
	}
	if req.Method != http.MethodGet && strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return modeJSON
	}
	return modeHTML
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
