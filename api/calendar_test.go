package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"tasksync/domain"
)

var datastarJSON = map[string]string{"Datastar-Request": "true", echo.HeaderContentType: echo.MIMEApplicationJSON}

// dayOf reports which grid cell holds the event of id.
func dayOf(t *testing.T, grid, id string) string {
	t.Helper()
	at := strings.Index(grid, `id="event_`+id+`"`)
	if at < 0 {
		t.Fatalf("event %s not in grid: %s", id, grid)
	}
	cell := strings.LastIndex(grid[:at], `data-date="`)
	if cell < 0 {
		t.Fatalf("event %s outside any day", id)
	}
	rest := grid[cell+len(`data-date="`):]
	return rest[:strings.Index(rest, `"`)]
}

func TestCalendarPageListsMonth(t *testing.T) {
	s := newStack(t)
	first := s.seed(t, "Ship report", "2024-06-01")
	late := s.seed(t, "Plan offsite", "2024-06-20")
	july := s.seed(t, "Retro", "2024-07-10")

	rec := s.do(http.MethodGet, "/tasks/calendar?month=2024-06", "", nil)
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, "<!doctype html>") || !strings.Contains(body, "June 2024") {
		t.Fatalf("expected full calendar page: %s", body)
	}
	if got := dayOf(t, body, first.ID); got != "2024-06-01" {
		t.Fatalf("expected %s on 2024-06-01, got %s", first.ID, got)
	}
	if got := dayOf(t, body, late.ID); got != "2024-06-20" {
		t.Fatalf("expected %s on 2024-06-20, got %s", late.ID, got)
	}
	if strings.Contains(body, `id="event_`+july.ID+`"`) {
		t.Fatalf("july task shown in june")
	}
	if !strings.Contains(body, `href="/tasks/`+late.ID+`"`) || !strings.Contains(body, "/tasks/calendar/stream?month=2024-06") {
		t.Fatalf("expected detail link and month stream: %s", body)
	}

	rec = s.do(http.MethodGet, "/tasks/calendar?month=2024-07", "", datastarHeaders)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `data-month="2024-07"`) || !strings.Contains(rec.Body.String(), `id="event_`+july.ID+`"`) {
		t.Fatalf("expected july grid patch: %s", rec.Body.String())
	}
}

func TestCalendarDropReschedules(t *testing.T) {
	s := newStack(t)
	task := s.seed(t, "Ship report", "2024-06-01")

	body := `{"dragging":"` + task.ID + `","due_date":"2024-06-20","title":""}`
	rec := s.do(http.MethodPatch, "/tasks/"+task.ID+"?calendar=2024-06", body, datastarJSON)
	expectStatus(t, rec, http.StatusOK)
	if got := dayOf(t, rec.Body.String(), task.ID); got != "2024-06-20" {
		t.Fatalf("expected event moved to 2024-06-20, got %s", got)
	}

	stored, err := s.svc.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DueDate.String() != "2024-06-20" || stored.Title != "Ship report" {
		t.Fatalf("expected only the due date to change: %+v", stored)
	}
}

func TestCalendarDropRevertsOnFailure(t *testing.T) {
	testCases := map[string]struct {
		wrap func(Tasks) Tasks
		due  string
	}{
		"storage error": {wrap: func(inner Tasks) Tasks { return failingUpdates{inner} }, due: "2024-06-20"},
		"invalid date":  {due: "someday"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			s := newStackWith(t, tc.wrap)
			task := s.seed(t, "Ship report", "2024-06-01")

			body := `{"dragging":"` + task.ID + `","due_date":"` + tc.due + `"}`
			rec := s.do(http.MethodPatch, "/tasks/"+task.ID+"?calendar=2024-06", body, datastarJSON)
			expectStatus(t, rec, http.StatusOK)
			if got := dayOf(t, rec.Body.String(), task.ID); got != "2024-06-01" {
				t.Fatalf("expected event back on 2024-06-01, got %s", got)
			}
			found := false
			for _, entry := range s.hook.AllEntries() {
				if entry.Message == "calendar reschedule rejected" && entry.Data["id"] == task.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected rejected reschedule to be logged")
			}
		})
	}
}

func TestCalendarStreamRefreshesMonth(t *testing.T) {
	s := newStack(t)
	srv := httptest.NewServer(s.e)
	t.Cleanup(srv.Close)

	lines := openStream(t, srv, "/tasks/calendar/stream?month=2024-06")
	waitLine(t, lines, `data-month="2024-06"`)

	task := s.seed(t, "Ship report", "2024-06-15")
	waitLine(t, lines, `id="event_`+task.ID+`"`)

	if _, err := s.svc.Update(context.Background(), task.ID, domain.Fields{DueDate: domain.StringPtr("2024-07-02")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitLine(t, lines, `data-month="2024-06"`)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed")
			}
			if strings.Contains(line, `id="event_`+task.ID+`"`) {
				t.Fatalf("rescheduled task still in june grid")
			}
			if strings.Contains(line, "</section>") {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for refreshed grid")
		}
	}
}
