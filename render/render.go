// Package render turns tasks into HTML fragments and pages.
package render

import (
	"embed"
	"html/template"
	"strings"

	"tasksync/calendar"
	"tasksync/domain"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer executes the task templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// FormView is the data of the new/edit form.
type FormView struct {
	Task   domain.Task
	Errors domain.ValidationErrors
	// Values holds the raw submitted input so a rejected form keeps what the
	// user typed.
	Values map[string]string
}

// IndexView is the data of the list page.
type IndexView struct {
	Tasks  []domain.Task
	Filter domain.Filter
}

// StreamURL is the change stream the page subscribes to, carrying the same
// filter so a reconnect resynchronises the filtered list.
func (v IndexView) StreamURL() string {
	if q := v.Filter.Values().Encode(); q != "" {
		return "/tasks/stream?" + q
	}
	return "/tasks/stream"
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	funcs := template.FuncMap{
		"domid":      domain.DOMID,
		"markdown":   markdownHTML,
		"statuses":   domain.Statuses,
		"priorities": domain.Priorities,
		"container":  func() string { return domain.TasksContainer },
		"region":     func() string { return domain.DetailRegion },
		"formval":    formValue,
		"joinerrs":   func(msgs []string) string { return strings.Join(msgs, ", ") },
	}
	tmpl, err := template.New("tasks").Funcs(funcs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for process start-up and tests.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Renderer) execute(name string, data any) (string, error) {
	var b strings.Builder
	if err := r.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Render produces the fragment for a single task. The output depends only on
// the task's field values.
func (r *Renderer) Render(t domain.Task) (domain.Fragment, error) {
	html, err := r.execute("task", t)
	if err != nil {
		return domain.Fragment{}, err
	}
	return domain.Fragment{ElementID: domain.DOMID(t.ID), HTML: html}, nil
}

// List renders the list container with every task in the given order.
func (r *Renderer) List(tasks []domain.Task) (string, error) {
	return r.execute("list", tasks)
}

// Detail renders the detail partial shown inside the detail region.
func (r *Renderer) Detail(t domain.Task) (string, error) {
	return r.execute("detail", t)
}

// Form renders the new/edit form partial.
func (r *Renderer) Form(v FormView) (string, error) {
	return r.execute("form", v)
}

// IndexPage renders the full list page.
func (r *Renderer) IndexPage(v IndexView) (string, error) {
	return r.execute("page_index", v)
}

// DetailPage renders the detail partial inside the full layout.
func (r *Renderer) DetailPage(t domain.Task) (string, error) {
	return r.execute("page_detail", t)
}

// FormPage renders the form partial inside the full layout.
func (r *Renderer) FormPage(v FormView) (string, error) {
	return r.execute("page_form", v)
}

// CalendarPage renders the month grid inside the full layout.
func (r *Renderer) CalendarPage(m calendar.Month) (string, error) {
	return r.execute("page_calendar", m)
}

// CalendarGrid renders the month grid alone, for patching #calendar.
func (r *Renderer) CalendarGrid(m calendar.Month) (string, error) {
	return r.execute("calendar", m)
}

// formValue prefers the raw submitted value over the stored one.
func formValue(v FormView, field string) string {
	if raw, ok := v.Values[field]; ok {
		return raw
	}
	switch field {
	case "title":
		return v.Task.Title
	case "description":
		return v.Task.Description
	case "status":
		return string(v.Task.Status)
	case "priority":
		return string(v.Task.Priority)
	case "due_date":
		return v.Task.DueDate.String()
	}
	return ""
}
