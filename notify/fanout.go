package notify

import (
	"context"
	"errors"

	"tasksync/domain"
)

// Publisher accepts committed change events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Fanout publishes to every member. Members are independent: one failing does
// not stop the rest.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
