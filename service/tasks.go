// Package service implements the task store: validation, persistence through
// a backend and change notification after every committed mutation.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Backend persists tasks. Get, Replace and Delete return domain.ErrNotFound
// for unknown ids. List returns tasks newest first.
type Backend interface {
	List(ctx context.Context, f domain.Filter) ([]domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Insert(ctx context.Context, t domain.Task) error
	Replace(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
}

// Notifier receives change events after they are committed.
type Notifier interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Renderer produces the fragment carried by create and update events.
type Renderer interface {
	Render(t domain.Task) (domain.Fragment, error)
}

type Option func(*Tasks)

func WithLogger(l *log.Logger) Option {
	return func(s *Tasks) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Tasks) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Tasks) { s.newID = newID }
}

// Tasks is the task store.
type Tasks struct {
	store    Backend
	notifier Notifier
	renderer Renderer
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
	locks    keyedMutex
}

func New(store Backend, notifier Notifier, renderer Renderer, opts ...Option) *Tasks {
	if store == nil {
		panic("service.New: backend is nil")
	}
	s := &Tasks{
		store:    store,
		notifier: notifier,
		renderer: renderer,
		logger:   log.StandardLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Tasks) List(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	tasks, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Tasks) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// Create validates fields and inserts a new task. A validation failure
// returns domain.ValidationErrors.
func (s *Tasks) Create(ctx context.Context, fields domain.Fields) (domain.Task, error) {
	t, err := fields.ApplyTo(domain.Task{})
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = s.newID()
	t.CreatedAt = s.now().UTC()

	unlock := s.locks.Lock(t.ID)
	defer unlock()
	if err := s.store.Insert(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.logger.WithFields(log.Fields{"id": t.ID, "title": t.Title}).Info("task created")
	s.emit(ctx, domain.Created, t)
	return t, nil
}

// Update applies a partial update. Fields left nil keep their stored value.
func (s *Tasks) Update(ctx context.Context, id string, fields domain.Fields) (domain.Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	next, err := fields.ApplyTo(cur)
	if err != nil {
		return cur, err
	}
	if err := s.store.Replace(ctx, next); err != nil {
		return cur, fmt.Errorf("replace task %s: %w", id, err)
	}
	s.logger.WithField("id", id).Info("task updated")
	s.emit(ctx, domain.Updated, next)
	return next, nil
}

func (s *Tasks) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.logger.WithField("id", id).Info("task deleted")
	s.emit(ctx, domain.Deleted, domain.Task{ID: id})
	return nil
}

// emit runs under the task's lock so subscribers see one id's events in
// commit order. Notification failures are logged, the mutation stands.
func (s *Tasks) emit(ctx context.Context, kind domain.ChangeKind, t domain.Task) {
	if s.notifier == nil {
		return
	}
	ev := domain.ChangeEvent{Kind: kind, SubjectID: t.ID, OccurredAt: s.now().UTC()}
	if kind != domain.Deleted {
		task := t
		ev.Task = &task
		if s.renderer != nil {
			frag, err := s.renderer.Render(t)
			if err != nil {
				s.logger.WithError(err).WithField("id", t.ID).Error("render fragment")
			} else {
				ev.Fragment = &frag
			}
		}
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"kind": kind, "id": t.ID}).Warn("change notification incomplete")
	}
}
