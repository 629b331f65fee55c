package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"tasksync/domain"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestGzipRequestBodies(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(gzipped(t, shipReport)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "identity, gzip")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	var task domain.Task
	decode(t, rec, &task)

	// Method override reads the inflated form.
	form := url.Values{"_method": {"patch"}, "title": {"Ship final report"}}
	req = httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID, bytes.NewReader(gzipped(t, form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusSeeOther)
	if got, _ := s.svc.Get(context.Background(), task.ID); got.Title != "Ship final report" {
		t.Fatalf("gzipped override not applied: %+v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte("not gzip")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestOversizedBodiesAreRejected(t *testing.T) {
	s := newStack(t)
	huge := `{"task":{"title":"Ship report","description":"` + strings.Repeat("a", maxBodySize) + `"}}`

	testCases := map[string]struct {
		body     []byte
		encoding string
	}{
		"plain":   {body: []byte(huge)},
		"gzipped": {body: gzipped(t, huge), encoding: "gzip"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			if tc.encoding != "" {
				req.Header.Set("Content-Encoding", tc.encoding)
			}
			rec := httptest.NewRecorder()
			s.e.ServeHTTP(rec, req)
			expectStatus(t, rec, http.StatusRequestEntityTooLarge)
		})
	}
	if tasks, _ := s.svc.List(context.Background(), domain.Filter{}); len(tasks) != 0 {
		t.Fatalf("oversized create must not commit, have %d tasks", len(tasks))
	}
}
