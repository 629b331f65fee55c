package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"tasksync/domain"
)

// TransportError reports a request that did not succeed: the connection
// failed, timed out, or the server answered with a non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to a task server over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the server at baseURL. A nil hc uses a client with
// a 10 second timeout.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) resolve(path string, q url.Values) string {
	u := *c.base
	ref, _ := url.Parse(path)
	u.Path = strings.TrimRight(c.base.Path, "/") + ref.Path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path, q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req, op)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// Events fetches the calendar feed. Empty bounds are omitted.
func (c *Client) Events(ctx context.Context, start, end string) ([]domain.CalendarEvent, error) {
	q := url.Values{}
	if start != "" {
		q.Set("start", start)
	}
	if end != "" {
		q.Set("end", end)
	}
	var events []domain.CalendarEvent
	if err := c.getJSON(ctx, "events", "/tasks/events", q, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// List fetches every task, newest first.
func (c *Client) List(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.getJSON(ctx, "list", "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateDueDate sends a partial update carrying only the due date.
func (c *Client) UpdateDueDate(ctx context.Context, id string, due domain.Date) error {
	payload := map[string]map[string]string{"task": {"due_date": due.String()}}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.resolve("/tasks/"+url.PathEscape(id), nil), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req, "update "+id)
	return err
}

// Detail fetches the detail partial at an event's detail URL.
func (c *Client) Detail(ctx context.Context, ev domain.CalendarEvent) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(ev.DetailURL, nil), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	body, err := c.do(req, "detail "+ev.ID)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
