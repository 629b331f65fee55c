package calendar

import (
	"context"
	"time"

	"tasksync/domain"
)

const monthLayout = "2006-01"

// Day is one cell of a month grid.
type Day struct {
	Date    domain.Date
	InMonth bool
	Events  []domain.CalendarEvent
}

// Month is a Monday-first grid of whole weeks covering one month, with the
// events due on each shown day.
type Month struct {
	First domain.Date
	Weeks [][]Day
}

// Key identifies the month as YYYY-MM.
func (m Month) Key() string { return m.First.Time().Format(monthLayout) }

func (m Month) Label() string { return m.First.Time().Format("January 2006") }

func (m Month) Prev() string { return m.First.Time().AddDate(0, -1, 0).Format(monthLayout) }

func (m Month) Next() string { return m.First.Time().AddDate(0, 1, 0).Format(monthLayout) }

// Range is the span of days the grid shows, including the padding days of
// the neighbouring months.
func (m Month) Range() domain.DateRange {
	start, end := gridBounds(m.First)
	return domain.DateRange{Start: &start, End: &end}
}

// Event finds a shown event by task id.
func (m Month) Event(id string) (domain.CalendarEvent, bool) {
	for _, week := range m.Weeks {
		for _, day := range week {
			for _, ev := range day.Events {
				if ev.ID == id {
					return ev, true
				}
			}
		}
	}
	return domain.CalendarEvent{}, false
}

// ParseMonth reads YYYY-MM and returns the first day of that month. A blank
// or malformed value falls back to the month of now.
func ParseMonth(s string, now time.Time) domain.Date {
	if t, err := time.Parse(monthLayout, s); err == nil {
		return domain.NewDate(t.Year(), t.Month(), 1)
	}
	return domain.NewDate(now.Year(), now.Month(), 1)
}

func mondayIndex(d domain.Date) int {
	return (int(d.Weekday()) + 6) % 7
}

func gridBounds(first domain.Date) (domain.Date, domain.Date) {
	last := first.Time().AddDate(0, 1, -1)
	lastDay := domain.NewDate(last.Year(), last.Month(), last.Day())
	return first.AddDays(-mondayIndex(first)), lastDay.AddDays(6 - mondayIndex(lastDay))
}

// Month builds the grid for the month starting at first. Events inside a day
// keep feed order.
func (f *Feed) Month(ctx context.Context, first domain.Date) (Month, error) {
	first = domain.NewDate(first.Time().Year(), first.Time().Month(), 1)
	m := Month{First: first}
	start, end := gridBounds(first)
	events, err := f.Events(ctx, domain.DateRange{Start: &start, End: &end})
	if err != nil {
		return Month{}, err
	}
	byDay := make(map[string][]domain.CalendarEvent)
	for _, ev := range events {
		byDay[ev.Start.String()] = append(byDay[ev.Start.String()], ev)
	}

	var week []Day
	for d := start; !d.After(end); d = d.AddDays(1) {
		week = append(week, Day{
			Date:    d,
			InMonth: d.Time().Month() == first.Time().Month(),
			Events:  byDay[d.String()],
		})
		if len(week) == 7 {
			m.Weeks = append(m.Weeks, week)
			week = nil
		}
	}
	return m, nil
}
