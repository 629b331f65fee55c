package domain

import (
	"net/url"
	"strings"
)

// Filter selects tasks for a list query. Every zero-valued criterion is a
// no-op; the set criteria are combined with AND.
type Filter struct {
	Query     string
	Status    Status
	Priority  Priority
	DueAfter  *Date
	DueBefore *Date
}

// Predicate reports whether a task passes one criterion.
type Predicate func(Task) bool

func (f Filter) WithQuery(q string) Filter {
	f.Query = strings.TrimSpace(q)
	return f
}

func (f Filter) WithStatus(s string) Filter {
	f.Status = Status(strings.TrimSpace(s))
	return f
}

func (f Filter) WithPriority(p string) Filter {
	f.Priority = Priority(strings.TrimSpace(p))
	return f
}

// DueOnOrAfter keeps tasks due on or after d. A zero d clears the bound.
func (f Filter) DueOnOrAfter(d Date) Filter {
	f.DueAfter = datePtr(d)
	return f
}

// DueOnOrBefore keeps tasks due on or before d. A zero d clears the bound.
func (f Filter) DueOnOrBefore(d Date) Filter {
	f.DueBefore = datePtr(d)
	return f
}

func datePtr(d Date) *Date {
	if d.IsZero() {
		return nil
	}
	return &d
}

// Predicates returns one predicate per set criterion.
func (f Filter) Predicates() []Predicate {
	var ps []Predicate
	if f.Query != "" {
		needle := strings.ToLower(f.Query)
		ps = append(ps, func(t Task) bool {
			return strings.Contains(strings.ToLower(t.Title), needle) ||
				strings.Contains(strings.ToLower(t.Description), needle)
		})
	}
	if f.Status != "" {
		status := f.Status
		ps = append(ps, func(t Task) bool { return t.Status == status })
	}
	if f.Priority != "" {
		priority := f.Priority
		ps = append(ps, func(t Task) bool { return t.Priority == priority })
	}
	if f.DueAfter != nil {
		after := *f.DueAfter
		ps = append(ps, func(t Task) bool { return !t.DueDate.Before(after) })
	}
	if f.DueBefore != nil {
		before := *f.DueBefore
		ps = append(ps, func(t Task) bool { return !t.DueDate.After(before) })
	}
	return ps
}

// Matches applies all predicates.
func (f Filter) Matches(t Task) bool {
	for _, p := range f.Predicates() {
		if !p(t) {
			return false
		}
	}
	return true
}

func (f Filter) IsZero() bool {
	return f.Query == "" && f.Status == "" && f.Priority == "" && f.DueAfter == nil && f.DueBefore == nil
}

// FilterFromValues reads q, status, priority, due_after and due_before from
// query parameters. Malformed dates are ignored.
func FilterFromValues(v url.Values) Filter {
	f := Filter{}.
		WithQuery(v.Get("q")).
		WithStatus(v.Get("status")).
		WithPriority(v.Get("priority"))
	if d, err := ParseDate(v.Get("due_after")); err == nil {
		f = f.DueOnOrAfter(d)
	}
	if d, err := ParseDate(v.Get("due_before")); err == nil {
		f = f.DueOnOrBefore(d)
	}
	return f
}

// Values is the inverse of FilterFromValues.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		v.Set("priority", string(f.Priority))
	}
	if f.DueAfter != nil {
		v.Set("due_after", f.DueAfter.String())
	}
	if f.DueBefore != nil {
		v.Set("due_before", f.DueBefore.String())
	}
	return v
}
