package notify

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tasksync/domain"
)

func startRelay(t *testing.T, ctx context.Context, addr string, hub *Hub) *Relay {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rc.Close() })
	r := NewRelay(rc, "test-updates", hub, nil)
	go r.Run(ctx)
	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not subscribe")
	}
	return r
}

func TestRelayForwardsToOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, hubB := NewHub(8, nil), NewHub(8, nil)
	relayA := startRelay(t, ctx, mr.Addr(), hubA)
	startRelay(t, ctx, mr.Addr(), hubB)

	subA := hubA.Subscribe(domain.TasksTopic)
	subB := hubB.Subscribe(domain.TasksTopic)
	defer subA.Close()
	defer subB.Close()

	ev := change(domain.Updated, "b7a1")
	ev.Fragment = &domain.Fragment{ElementID: "task_b7a1", HTML: `<article id="task_b7a1"></article>`}
	if err := relayA.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := recv(t, subB)
	if got.Kind != domain.Updated || got.SubjectID != "b7a1" || got.Fragment == nil || got.Fragment.HTML != ev.Fragment.HTML {
		t.Fatalf("unexpected relayed event: %+v", got)
	}
	if !got.OccurredAt.Equal(ev.OccurredAt) {
		t.Fatalf("expected occurredAt %v, got %v", ev.OccurredAt, got.OccurredAt)
	}

	select {
	case own := <-subA.Events():
		t.Fatalf("origin instance received its own event: %+v", own)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayIgnoresMalformedPayload(t *testing.T) {
	logger, hook := test.NewNullLogger()
	hub := NewHub(4, nil)
	s := hub.Subscribe(domain.TasksTopic)
	defer s.Close()
	r := NewRelay(nil, "", hub, logger)

	r.handle("not json")

	if hook.LastEntry() == nil || hook.LastEntry().Level != log.ErrorLevel {
		t.Fatalf("expected parse error to be logged")
	}
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestRelayStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	r := NewRelay(rc, "", NewHub(1, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	<-r.Ready()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
}

// silentServer accepts connections and never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRelayPublishGivesUpOnStalledRedis(t *testing.T) {
	rc := redis.NewClient(&redis.Options{
		Addr:                  silentServer(t),
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	defer rc.Close()
	r := NewRelay(rc, "", NewHub(1, nil), nil, WithPublishTimeout(50*time.Millisecond))

	start := time.Now()
	err := r.Publish(context.Background(), domain.ChangeEvent{Kind: domain.Deleted, SubjectID: "a"})
	if err == nil {
		t.Fatalf("expected publish to fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish held on for %v", elapsed)
	}
}
