package domain

import "time"

const (
	// TasksTopic is the notifier topic every task change is published on.
	TasksTopic = "tasks"
	// TasksContainer is the DOM id of the list new task fragments go into.
	TasksContainer = "tasks"
	// DetailRegion is the DOM id of the region detail and form partials render into.
	DetailRegion = "task_modal"
)

// DOMID is the fragment identifier of a task.
func DOMID(taskID string) string {
	return "task_" + taskID
}

// ChangeKind tags a ChangeEvent.
type ChangeKind string

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

// Action is the fragment patch instruction a change maps to.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionReplace Action = "replace"
	ActionRemove  Action = "remove"
)

func (k ChangeKind) Action() Action {
	switch k {
	case Created:
		return ActionInsert
	case Updated:
		return ActionReplace
	default:
		return ActionRemove
	}
}

// Fragment is rendered task markup keyed by its DOM id.
type Fragment struct {
	ElementID string `json:"id"`
	HTML      string `json:"html"`
}

// ChangeEvent is the transient notification emitted after a committed mutation.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	SubjectID  string     `json:"id"`
	Task       *Task      `json:"task,omitempty"`
	Fragment   *Fragment  `json:"fragment,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Target is the DOM id the instruction applies to: the list container for
// inserts, the task's own node otherwise.
func (e ChangeEvent) Target() string {
	if e.Kind == Created {
		return TasksContainer
	}
	return DOMID(e.SubjectID)
}

// Push is the JSON message sent to websocket subscribers.
type Push struct {
	Kind     ChangeKind `json:"kind"`
	Action   Action     `json:"action"`
	ID       string     `json:"id"`
	Target   string     `json:"target"`
	Fragment string     `json:"fragment,omitempty"`
	Task     *Task      `json:"task,omitempty"`
}

func (e ChangeEvent) Push() Push {
	p := Push{
		Kind:   e.Kind,
		Action: e.Kind.Action(),
		ID:     e.SubjectID,
		Target: e.Target(),
		Task:   e.Task,
	}
	if e.Fragment != nil {
		p.Fragment = e.Fragment.HTML
	}
	return p
}
