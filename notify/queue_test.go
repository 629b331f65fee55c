package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tasksync/domain"
)

type fakeEnqueuer struct {
	mu      sync.Mutex
	msgs    []string
	started chan struct{}
	release chan struct{}
	err     error
}

func (f *fakeEnqueuer) EnqueueMessage(ctx context.Context, content string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, content)
	return f.err
}

func (f *fakeEnqueuer) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func TestQueueSinkExportsCompactRecord(t *testing.T) {
	q := &fakeEnqueuer{}
	sink := NewQueueSink(q, SinkConfig{Workers: 1, Buffer: 4}, nil)

	ev := change(domain.Deleted, "b7a1")
	ev.Fragment = &domain.Fragment{ElementID: "task_b7a1", HTML: "<p>x</p>"}
	if err := sink.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sink.Close()

	msgs := q.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], `"kind":"deleted"`) || !strings.Contains(msgs[0], `"id":"b7a1"`) {
		t.Fatalf("unexpected message: %s", msgs[0])
	}
	if strings.Contains(msgs[0], "html") {
		t.Fatalf("fragment must not be exported: %s", msgs[0])
	}
}

func TestQueueSinkSaturation(t *testing.T) {
	q := &fakeEnqueuer{started: make(chan struct{}, 1), release: make(chan struct{})}
	sink := NewQueueSink(q, SinkConfig{Workers: 1, Buffer: 1, HandoffTimeout: 10 * time.Millisecond}, nil)

	ctx := context.Background()
	if err := sink.Publish(ctx, change(domain.Created, "1")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	<-q.started
	if err := sink.Publish(ctx, change(domain.Created, "2")); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if err := sink.Publish(ctx, change(domain.Created, "3")); !errors.Is(err, ErrSinkSaturated) {
		t.Fatalf("expected ErrSinkSaturated, got %v", err)
	}

	close(q.release)
	sink.Close()
	if n := len(q.messages()); n != 2 {
		t.Fatalf("expected 2 exported records, got %d", n)
	}
}

func TestQueueSinkRejectsAfterClose(t *testing.T) {
	sink := NewQueueSink(&fakeEnqueuer{}, SinkConfig{Workers: 1, Buffer: 1}, nil)
	sink.Close()
	if err := sink.Publish(context.Background(), change(domain.Created, "1")); !errors.Is(err, ErrSinkSaturated) {
		t.Fatalf("expected publish after close to fail, got %v", err)
	}
}

func TestQueueSinkSwallowsEnqueueErrors(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("queue down")}
	sink := NewQueueSink(q, SinkConfig{Workers: 2, Buffer: 2}, nil)
	if err := sink.Publish(context.Background(), change(domain.Updated, "1")); err != nil {
		t.Fatalf("publish should not surface export failures: %v", err)
	}
	sink.Close()
}
