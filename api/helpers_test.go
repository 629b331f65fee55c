package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"tasksync/calendar"
	"tasksync/domain"
	"tasksync/notify"
	"tasksync/render"
	"tasksync/service"
	"tasksync/storage"
)

type stack struct {
	e     *echo.Echo
	svc   *service.Tasks
	hub   *notify.Hub
	store *storage.Memory
	hook  *test.Hook
}

func newStack(t *testing.T, opts ...Option) *stack {
	return newStackWith(t, nil, opts...)
}

// newStackWith builds the full server. wrap, when set, decorates the task
// store handed to the routes.
func newStackWith(t *testing.T, wrap func(Tasks) Tasks, opts ...Option) *stack {
	t.Helper()
	logger, hook := test.NewNullLogger()
	store := storage.NewMemory()
	hub := notify.NewHub(16, logger)
	views := render.MustNew()
	svc := service.New(store, hub, views, service.WithLogger(logger))

	var tasks Tasks = svc
	if wrap != nil {
		tasks = wrap(svc)
	}
	e := echo.New()
	Configure(e)
	Register(e, tasks, calendar.NewFeed(svc), hub, views, logger, opts...)
	return &stack{e: e, svc: svc, hub: hub, store: store, hook: hook}
}

func (s *stack) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

var (
	jsonHeaders     = map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON, echo.HeaderAccept: echo.MIMEApplicationJSON}
	acceptJSON      = map[string]string{echo.HeaderAccept: echo.MIMEApplicationJSON}
	formHeaders     = map[string]string{echo.HeaderContentType: echo.MIMEApplicationForm}
	datastarHeaders = map[string]string{"Datastar-Request": "true"}
	datastarForm    = map[string]string{"Datastar-Request": "true", echo.HeaderContentType: echo.MIMEApplicationForm}
)

const shipReport = `{"task":{"title":"Ship report","description":"Quarterly numbers","status":"open","priority":"high","due_date":"2024-06-01"}}`

func (s *stack) seed(t *testing.T, title, due string) domain.Task {
	t.Helper()
	task, err := s.svc.Create(context.Background(), domain.Fields{
		Title:       domain.StringPtr(title),
		Description: domain.StringPtr(title + " description"),
		Status:      domain.StringPtr("open"),
		Priority:    domain.StringPtr("medium"),
		DueDate:     domain.StringPtr(due),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", title, err)
	}
	return task
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func noEvent(t *testing.T, sub *notify.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected change event: %+v", ev)
	default:
	}
}

var _ http.Handler = (*echo.Echo)(nil)
