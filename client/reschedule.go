// Package client is the Go side of a calendar viewer: an id-keyed calendar
// model, optimistic drag-to-reschedule, and the HTTP and websocket plumbing to
// talk to the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasksync/calendar"
	"tasksync/domain"
)

// Phase is the state of one drag interaction.
type Phase int

const (
	Idle Phase = iota
	Dragging
	PendingPersist
	Committed
	RolledBack
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case PendingPersist:
		return "pending_persist"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	ErrUnknownEvent      = errors.New("unknown calendar event")
	ErrInvalidTransition = errors.New("invalid drag transition")
)

// Calendar is the local, id-keyed set of displayed events.
type Calendar struct {
	mu     sync.RWMutex
	events map[string]domain.CalendarEvent
}

func NewCalendar(events []domain.CalendarEvent) *Calendar {
	c := &Calendar{events: make(map[string]domain.CalendarEvent, len(events))}
	for _, ev := range events {
		c.events[ev.ID] = ev
	}
	return c
}

func (c *Calendar) Event(id string) (domain.CalendarEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.events[id]
	return ev, ok
}

// Events returns the displayed events ordered by date, then id.
func (c *Calendar) Events() []domain.CalendarEvent {
	c.mu.RLock()
	out := make([]domain.CalendarEvent, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// move sets the event date and returns the previous one.
func (c *Calendar) move(id string, to domain.Date) (domain.Date, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	if !ok {
		return domain.Date{}, false
	}
	prev := ev.Start
	ev.Start = to
	c.events[id] = ev
	return prev, true
}

// Apply patches the calendar from a server push. Applying the same push twice
// leaves the calendar unchanged.
func (c *Calendar) Apply(p domain.Push) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p.Kind {
	case domain.Deleted:
		delete(c.events, p.ID)
	case domain.Created, domain.Updated:
		if p.Task == nil {
			return
		}
		c.events[p.ID] = calendar.EventFor(*p.Task)
	}
}

// Persister stores a new due date for a task.
type Persister interface {
	UpdateDueDate(ctx context.Context, id string, due domain.Date) error
}

// Rescheduler starts drags on a calendar.
type Rescheduler struct {
	cal     *Calendar
	persist Persister
	timeout time.Duration
	logger  *log.Logger
}

func NewRescheduler(cal *Calendar, persist Persister, timeout time.Duration, logger *log.Logger) *Rescheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Rescheduler{cal: cal, persist: persist, timeout: timeout, logger: logger}
}

// BeginDrag picks up the event with the given id.
func (r *Rescheduler) BeginDrag(id string) (*Drag, error) {
	ev, ok := r.cal.Event(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	return &Drag{r: r, id: id, from: ev.Start, phase: Dragging}, nil
}

// Drag is one drag interaction. Its phase only moves forward:
// Dragging to Idle (cancel) or to PendingPersist and then Committed or
// RolledBack.
type Drag struct {
	r    *Rescheduler
	id   string
	from domain.Date

	mu    sync.Mutex
	phase Phase
	to    domain.Date
	err   error
}

func (d *Drag) ID() string { return d.id }

func (d *Drag) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Err is the persist failure that caused a rollback.
func (d *Drag) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Cancel abandons the drag before it is dropped. No request is made.
func (d *Drag) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == Dragging {
		d.phase = Idle
	}
}

// Drop moves the event to the new date immediately, then persists it. On any
// persist failure the event goes back to its pre-drag date and the error is
// returned. There is no retry.
func (d *Drag) Drop(ctx context.Context, to domain.Date) error {
	d.mu.Lock()
	if d.phase != Dragging {
		phase := d.phase
		d.mu.Unlock()
		return fmt.Errorf("%w: drop while %s", ErrInvalidTransition, phase)
	}
	d.phase = PendingPersist
	d.to = to
	d.mu.Unlock()

	logger := d.r.logger.WithFields(log.Fields{"id": d.id, "from": d.from.String(), "to": to.String()})
	if to.Equal(d.from) {
		d.finish(Committed, nil)
		return nil
	}
	if _, ok := d.r.cal.move(d.id, to); !ok {
		d.finish(RolledBack, ErrUnknownEvent)
		return ErrUnknownEvent
	}

	if d.r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.r.timeout)
		defer cancel()
	}
	if err := d.r.persist.UpdateDueDate(ctx, d.id, to); err != nil {
		d.r.cal.move(d.id, d.from)
		d.finish(RolledBack, err)
		logger.WithError(err).Warn("reschedule rolled back")
		return err
	}
	d.finish(Committed, nil)
	logger.Debug("reschedule committed")
	return nil
}

func (d *Drag) finish(p Phase, err error) {
	d.mu.Lock()
	d.phase = p
	d.err = err
	d.mu.Unlock()
}
