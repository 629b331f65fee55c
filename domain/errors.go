package domain

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// FieldError names one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + " " + e.Message
}

// ValidationErrors is the field-level rejection of a create or update.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Add(field, message string) ValidationErrors {
	return append(v, FieldError{Field: field, Message: message})
}

func (v ValidationErrors) Has(field string) bool {
	for _, fe := range v {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// For returns the messages recorded for field.
func (v ValidationErrors) For(field string) []string {
	var out []string
	for _, fe := range v {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

// Fields lists the distinct invalid field names in form order.
func (v ValidationErrors) Fields() []string {
	out := make([]string, 0, len(v))
	for _, fe := range v.sorted() {
		if len(out) == 0 || out[len(out)-1] != fe.Field {
			out = append(out, fe.Field)
		}
	}
	return out
}

var fieldOrder = map[string]int{"title": 0, "description": 1, "status": 2, "priority": 3, "due_date": 4}

func (v ValidationErrors) sorted() ValidationErrors {
	out := append(ValidationErrors(nil), v...)
	sort.SliceStable(out, func(i, j int) bool {
		return fieldOrder[out[i].Field] < fieldOrder[out[j].Field]
	})
	return out
}

// AsValidation extracts ValidationErrors from err.
func AsValidation(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
