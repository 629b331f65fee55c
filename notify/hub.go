// Package notify fans committed task changes out to live subscribers.
package notify

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// DefaultBuffer is the per-subscriber event buffer used when none is given.
const DefaultBuffer = 64

// Subscription is one live subscriber handle. Its event channel is closed when
// the subscription ends, either by Close or because the hub dropped it.
type Subscription struct {
	topic string
	ch    chan domain.ChangeEvent
	hub   *Hub
}

// Events yields change events in publish order.
func (s *Subscription) Events() <-chan domain.ChangeEvent { return s.ch }

func (s *Subscription) Topic() string { return s.topic }

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is the in-process topic registry.
type Hub struct {
	buffer int
	logger *log.Logger

	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
}

func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{buffer: buffer, logger: logger, topics: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{topic: topic, ch: make(chan domain.ChangeEvent, h.buffer), hub: h}
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("topic", topic).Debug("subscriber added")
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) bool {
	subs := h.topics[s.topic]
	if _, ok := subs[s]; !ok {
		return false
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
	close(s.ch)
	return true
}

// Count returns the number of live subscribers on topic.
func (h *Hub) Count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Broadcast delivers ev to every subscriber of topic without blocking. A
// subscriber whose buffer is full is dropped and its channel closed; it is
// expected to reconnect and resynchronise. Returns the number of deliveries.
func (h *Hub) Broadcast(topic string, ev domain.ChangeEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for s := range h.topics[topic] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			h.removeLocked(s)
			h.logger.WithFields(log.Fields{
				"topic": topic,
				"kind":  ev.Kind,
				"id":    ev.SubjectID,
			}).Warn("subscriber too slow, dropped")
		}
	}
	return delivered
}

// Publish sends a task change to the tasks topic.
func (h *Hub) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	n := h.Broadcast(domain.TasksTopic, ev)
	h.logger.WithFields(log.Fields{"kind": ev.Kind, "id": ev.SubjectID, "delivered": n}).Debug("change published")
	return nil
}
