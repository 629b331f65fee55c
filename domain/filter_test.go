package domain

import (
	"net/url"
	"testing"
)

func sampleTasks() []Task {
	return []Task{
		{ID: "1", Title: "Ship report", Description: "Q3 summary", Status: StatusOpen, Priority: PriorityHigh, DueDate: NewDate(2024, 6, 1)},
		{ID: "2", Title: "Plan offsite", Description: "Book the REPORT room", Status: StatusDone, Priority: PriorityLow, DueDate: NewDate(2024, 6, 15)},
		{ID: "3", Title: "Fix bug", Description: "null pointer", Status: StatusOpen, Priority: PriorityLow, DueDate: NewDate(2024, 7, 1)},
	}
}

func matchingIDs(f Filter) []string {
	var ids []string
	for _, t := range sampleTasks() {
		if f.Matches(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func TestFilterZeroMatchesEverything(t *testing.T) {
	if got := matchingIDs(Filter{}); len(got) != 3 {
		t.Fatalf("expected all tasks, got %v", got)
	}
	if !(Filter{}).WithQuery("  ").WithStatus("").IsZero() {
		t.Fatal("blank criteria should be no-ops")
	}
}

func TestFilterQueryIsCaseInsensitiveOverTitleAndDescription(t *testing.T) {
	got := matchingIDs(Filter{}.WithQuery("report"))
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected matches %v", got)
	}
}

func TestFilterCriteriaCompose(t *testing.T) {
	f := Filter{}.
		WithStatus("open").
		WithPriority("low").
		DueOnOrAfter(NewDate(2024, 6, 2))
	got := matchingIDs(f)
	if len(got) != 1 || got[0] != "3" {
		t.Fatalf("unexpected matches %v", got)
	}

	reordered := Filter{}.DueOnOrAfter(NewDate(2024, 6, 2)).WithPriority("low").WithStatus("open")
	if r := matchingIDs(reordered); len(r) != 1 || r[0] != "3" {
		t.Fatalf("order of criteria changed the result: %v", r)
	}
}

func TestFilterDueBoundsAreInclusive(t *testing.T) {
	f := Filter{}.DueOnOrAfter(NewDate(2024, 6, 1)).DueOnOrBefore(NewDate(2024, 6, 15))
	got := matchingIDs(f)
	if len(got) != 2 {
		t.Fatalf("expected both june tasks, got %v", got)
	}
}

func TestParseDateRangeDropsMalformedBounds(t *testing.T) {
	r := ParseDateRange("nonsense", "2024-06-30")
	if r.Start != nil {
		t.Fatalf("expected malformed start to be dropped, got %v", r.Start)
	}
	if r.End == nil || r.End.String() != "2024-06-30" {
		t.Fatalf("unexpected end %v", r.End)
	}
	if !r.Contains(NewDate(1999, 1, 1)) || r.Contains(NewDate(2024, 7, 1)) {
		t.Fatal("range containment is wrong")
	}
}

func TestChangeEventTarget(t *testing.T) {
	if (ChangeEvent{Kind: Created, SubjectID: "a"}).Target() != TasksContainer {
		t.Fatal("created events target the list container")
	}
	if (ChangeEvent{Kind: Deleted, SubjectID: "a"}).Target() != "task_a" {
		t.Fatal("deleted events target the task node")
	}
	if Updated.Action() != ActionReplace || Created.Action() != ActionInsert || Deleted.Action() != ActionRemove {
		t.Fatal("unexpected action mapping")
	}
}

func TestChangeEventPush(t *testing.T) {
	task := Task{ID: "a", Title: "Ship report"}
	p := ChangeEvent{Kind: Updated, SubjectID: "a", Task: &task, Fragment: &Fragment{ElementID: "task_a", HTML: "<article></article>"}}.Push()
	if p.Action != ActionReplace || p.Target != "task_a" || p.Fragment != "<article></article>" || p.Task.Title != "Ship report" {
		t.Fatalf("unexpected push: %+v", p)
	}
	if p := (ChangeEvent{Kind: Deleted, SubjectID: "a"}).Push(); p.Fragment != "" || p.Task != nil || p.Action != ActionRemove {
		t.Fatalf("unexpected delete push: %+v", p)
	}
}

func TestFilterValuesRoundTrip(t *testing.T) {
	v := url.Values{}
	v.Set("q", " report ")
	v.Set("status", "open")
	v.Set("due_after", "2024-06-01")
	v.Set("due_before", "soon")

	f := FilterFromValues(v)
	if f.Query != "report" || f.Status != StatusOpen || f.DueAfter == nil || f.DueBefore != nil {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if got := f.Values().Encode(); got != "due_after=2024-06-01&q=report&status=open" {
		t.Fatalf("unexpected encoding: %s", got)
	}
	if !FilterFromValues(nil).IsZero() {
		t.Fatal("nil values must give the zero filter")
	}
}
