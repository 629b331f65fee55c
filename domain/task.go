package domain

import (
	"strings"
	"time"
)

// Status is a task lifecycle label.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists the valid statuses in lifecycle order.
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusDone}
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Label is the human readable form used by templates.
func (s Status) Label() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusInProgress:
		return "In progress"
	case StatusDone:
		return "Done"
	}
	return string(s)
}

// Priority is one of a fixed ordered set.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists the valid priorities from lowest to highest.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities; unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

func (p Priority) Label() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Task is a single shared task record.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	DueDate     Date      `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fields carries user supplied task attributes. Nil means "not provided";
// a partial update only touches provided fields.
type Fields struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// Empty reports whether no field was provided.
func (f Fields) Empty() bool {
	return f.Title == nil && f.Description == nil && f.Status == nil && f.Priority == nil && f.DueDate == nil
}

// ApplyTo merges f into base and validates the result. The returned error is
// ValidationErrors when the merged task is not persistable.
func (f Fields) ApplyTo(base Task) (Task, error) {
	t := base
	var errs ValidationErrors
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Status != nil {
		t.Status = Status(strings.TrimSpace(*f.Status))
	}
	if f.Priority != nil {
		t.Priority = Priority(strings.TrimSpace(*f.Priority))
	}
	if f.DueDate != nil {
		raw := strings.TrimSpace(*f.DueDate)
		switch d, err := ParseDate(raw); {
		case raw == "":
			t.DueDate = Date{}
		case err != nil:
			t.DueDate = Date{}
			errs = errs.Add("due_date", "is not a valid date")
		default:
			t.DueDate = d
		}
	}
	for _, fe := range Validate(t) {
		if !errs.Has(fe.Field) {
			errs = append(errs, fe)
		}
	}
	if len(errs) > 0 {
		return base, errs.sorted()
	}
	return t, nil
}

// Validate checks the presence invariants of a task.
func Validate(t Task) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(t.Title) == "" {
		errs = errs.Add("title", "can't be blank")
	}
	if strings.TrimSpace(t.Description) == "" {
		errs = errs.Add("description", "can't be blank")
	}
	switch {
	case t.Status == "":
		errs = errs.Add("status", "can't be blank")
	case !t.Status.Valid():
		errs = errs.Add("status", "is not included in the list")
	}
	switch {
	case t.Priority == "":
		errs = errs.Add("priority", "can't be blank")
	case !t.Priority.Valid():
		errs = errs.Add("priority", "is not included in the list")
	}
	if t.DueDate.IsZero() {
		errs = errs.Add("due_date", "can't be blank")
	}
	return errs
}

// StringPtr is a helper for building Fields literals.
func StringPtr(s string) *string { return &s }
