package client

import (
	"sync"

	"tasksync/domain"
)

// Entry is one task on the board.
type Entry struct {
	Task domain.Task
	HTML string
}

// Board mirrors the server's task list keyed by task id, newest first.
type Board struct {
	mu    sync.RWMutex
	order []string
	items map[string]Entry
}

func NewBoard() *Board {
	return &Board{items: make(map[string]Entry)}
}

// Reset replaces the board with a freshly fetched list.
func (b *Board) Reset(tasks []domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = make([]string, 0, len(tasks))
	b.items = make(map[string]Entry, len(tasks))
	for _, t := range tasks {
		if _, dup := b.items[t.ID]; dup {
			continue
		}
		b.order = append(b.order, t.ID)
		b.items[t.ID] = Entry{Task: t}
	}
}

// Apply dispatches a push on its kind. An insert for an id already on the
// board replaces it in place; a replace for an unknown id is ignored.
func (b *Board) Apply(p domain.Push) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch p.Kind {
	case domain.Created:
		if _, ok := b.items[p.ID]; !ok {
			b.order = append([]string{p.ID}, b.order...)
		}
		b.items[p.ID] = entryFor(p, b.items[p.ID])
	case domain.Updated:
		if cur, ok := b.items[p.ID]; ok {
			b.items[p.ID] = entryFor(p, cur)
		}
	case domain.Deleted:
		if _, ok := b.items[p.ID]; !ok {
			return
		}
		delete(b.items, p.ID)
		for i, id := range b.order {
			if id == p.ID {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func entryFor(p domain.Push, cur Entry) Entry {
	e := cur
	if p.Task != nil {
		e.Task = *p.Task
	}
	if p.Fragment != "" {
		e.HTML = p.Fragment
	}
	return e
}

func (b *Board) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

func (b *Board) Get(id string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.items[id]
	return e, ok
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
