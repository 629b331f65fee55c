package api

import (
	"github.com/starfederation/datastar-go/datastar"

	"tasksync/domain"
)

func byID(id string) string { return "#" + id }

// regionHTML wraps a partial in the detail region element so it can be
// patched by id.
func regionHTML(inner string) string {
	return `<div id="` + domain.DetailRegion + `">` + inner + `</div>`
}

func patchRegion(sse *datastar.ServerSentEventGenerator, inner string) error {
	return sse.PatchElements(regionHTML(inner))
}

func patchRemove(sse *datastar.ServerSentEventGenerator, selector string) error {
	return sse.PatchElements("", datastar.WithSelector(selector), datastar.WithMode(datastar.ElementPatchModeRemove))
}

// patchInsert puts a fragment first in the list container. Any node with the
// same id is removed beforehand, so inserting twice leaves one node.
func patchInsert(sse *datastar.ServerSentEventGenerator, frag domain.Fragment) error {
	if err := patchRemove(sse, byID(frag.ElementID)); err != nil {
		return err
	}
	if err := patchRemove(sse, byID(domain.TasksContainer)+" > .empty"); err != nil {
		return err
	}
	return sse.PatchElements(frag.HTML,
		datastar.WithSelector(byID(domain.TasksContainer)),
		datastar.WithMode(datastar.ElementPatchModePrepend))
}

func patchReplace(sse *datastar.ServerSentEventGenerator, frag domain.Fragment) error {
	return sse.PatchElements(frag.HTML,
		datastar.WithSelector(byID(frag.ElementID)),
		datastar.WithMode(datastar.ElementPatchModeOuter))
}

// patchChange applies the instruction of a change event. Tasks outside the
// viewer's filter are not inserted, and are removed when an update moves them
// out of it. A filtered viewer may not hold the node an update replaces, so
// there the update is inserted instead, which moves the task to the top.
func patchChange(sse *datastar.ServerSentEventGenerator, ev domain.ChangeEvent, f domain.Filter) error {
	id := domain.DOMID(ev.SubjectID)
	if ev.Kind != domain.Deleted && ev.Task != nil && !f.Matches(*ev.Task) {
		if ev.Kind == domain.Updated {
			return patchRemove(sse, byID(id))
		}
		return nil
	}
	action := ev.Kind.Action()
	if action == domain.ActionReplace && !f.IsZero() {
		action = domain.ActionInsert
	}
	switch action {
	case domain.ActionInsert:
		if ev.Fragment == nil {
			return nil
		}
		return patchInsert(sse, *ev.Fragment)
	case domain.ActionReplace:
		if ev.Fragment == nil {
			return nil
		}
		return patchReplace(sse, *ev.Fragment)
	default:
		return patchRemove(sse, byID(id))
	}
}
