package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// DefaultChannel is the redis pub/sub channel task changes are relayed on.
const DefaultChannel = "task-updates"

// DefaultPublishTimeout bounds one relay publish. Publishing runs while the
// task's lock is held, so a stalled redis must not stall writers for long.
const DefaultPublishTimeout = 2 * time.Second

type envelope struct {
	Origin string             `json:"origin"`
	Topic  string             `json:"topic"`
	Event  domain.ChangeEvent `json:"event"`
}

// Relay mirrors changes between instances over redis pub/sub. Events published
// here go to redis; events received from other instances are broadcast on
// the local hub.
type Relay struct {
	rc      *redis.Client
	channel string
	origin  string
	local   *Hub
	logger  *log.Logger
	timeout time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

type RelayOption func(*Relay)

// WithPublishTimeout replaces DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRelay(rc *redis.Client, channel string, local *Hub, logger *log.Logger, opts ...RelayOption) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Relay{
		rc:      rc,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  logger,
		timeout: DefaultPublishTimeout,
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Origin identifies this instance on the channel.
func (r *Relay) Origin() string { return r.origin }

// Ready is closed once the first subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

func (r *Relay) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(envelope{Origin: r.origin, Topic: domain.TasksTopic, Event: ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel until ctx is done, resubscribing whenever the
// subscription drops.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			r.logger.WithError(err).Error("relay subscribe failed, retrying")
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		r.readyOnce.Do(func() { close(r.ready) })
		r.logger.WithField("channel", r.channel).Info("relay subscribed")

		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				r.handle(msg.Payload)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("relay channel closed, reconnecting")
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (r *Relay) handle(payload string) {
	var env envelope
	if err := sonic.UnmarshalString(payload, &env); err != nil {
		r.logger.WithError(err).Error("unable to parse relayed change")
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.Topic == "" {
		env.Topic = domain.TasksTopic
	}
	n := r.local.Broadcast(env.Topic, env.Event)
	r.logger.WithFields(log.Fields{
		"origin":    env.Origin,
		"kind":      env.Event.Kind,
		"id":        env.Event.SubjectID,
		"delivered": n,
	}).Debug("relayed change")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
