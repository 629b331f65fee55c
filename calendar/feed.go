// Package calendar derives the date-range event feed from tasks.
package calendar

import (
	"context"
	"net/url"

	"tasksync/domain"
)

// Lister is the read side of the task store.
type Lister interface {
	List(ctx context.Context, f domain.Filter) ([]domain.Task, error)
}

// Feed builds calendar events on demand. Nothing is cached.
type Feed struct {
	tasks Lister
}

func NewFeed(tasks Lister) *Feed {
	return &Feed{tasks: tasks}
}

// DetailURL is where a calendar client fetches a task's detail partial.
func DetailURL(id string) string {
	return "/tasks/" + url.PathEscape(id) + "/modal"
}

// EventFor maps a task to its all-day calendar event.
func EventFor(t domain.Task) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:        t.ID,
		Title:     t.Title,
		Start:     t.DueDate,
		AllDay:    true,
		DetailURL: DetailURL(t.ID),
	}
}

// Events returns one event per task due inside r. Open bounds are unbounded.
func (f *Feed) Events(ctx context.Context, r domain.DateRange) ([]domain.CalendarEvent, error) {
	tasks, err := f.tasks.List(ctx, r.Filter())
	if err != nil {
		return nil, err
	}
	events := make([]domain.CalendarEvent, 0, len(tasks))
	for _, t := range tasks {
		if !r.Contains(t.DueDate) {
			continue
		}
		events = append(events, EventFor(t))
	}
	return events, nil
}

// EventsBetween parses raw bounds, dropping malformed ones, and calls Events.
func (f *Feed) EventsBetween(ctx context.Context, start, end string) ([]domain.CalendarEvent, error) {
	return f.Events(ctx, domain.ParseDateRange(start, end))
}
