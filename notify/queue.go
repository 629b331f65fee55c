package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// ErrSinkSaturated is returned when the export workers cannot accept a record
// within the hand-off timeout.
var ErrSinkSaturated = errors.New("change export sink is saturated")

// Enqueuer writes one message to a queue.
type Enqueuer interface {
	EnqueueMessage(ctx context.Context, content string) error
}

// ChangeRecord is the compact export form of a change.
type ChangeRecord struct {
	Kind       domain.ChangeKind `json:"kind"`
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// SinkConfig tunes the export worker pool.
type SinkConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// QueueSink exports change records through a bounded worker pool. Failures
// are logged and never reach the mutation that produced the change.
type QueueSink struct {
	cfg    SinkConfig
	q      Enqueuer
	logger *log.Logger

	jobs chan ChangeRecord
	wg   sync.WaitGroup
	once sync.Once
}

func NewQueueSink(q Enqueuer, cfg SinkConfig, logger *log.Logger) *QueueSink {
	if q == nil {
		panic("notify.NewQueueSink: enqueuer is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	s := &QueueSink{cfg: cfg, q: q, logger: logger, jobs: make(chan ChangeRecord, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("change export started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return s
}

func (s *QueueSink) worker(id int) {
	defer s.wg.Done()
	for rec := range s.jobs {
		data, err := sonic.MarshalString(rec)
		if err != nil {
			s.logger.WithError(err).Error("marshal change record")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EnqueueTimeout)
		err = s.q.EnqueueMessage(ctx, data)
		cancel()
		if err != nil {
			s.logger.Errorf("export failed, err: %v, kind: %s, id: %s, worker: %d", err, rec.Kind, rec.ID, id)
		}
	}
}

// Publish hands the change to the workers.
func (s *QueueSink) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	rec := ChangeRecord{Kind: ev.Kind, ID: ev.SubjectID, OccurredAt: ev.OccurredAt}
	if !s.handoff(rec) {
		s.logger.WithFields(log.Fields{"kind": ev.Kind, "id": ev.SubjectID}).Warn("change export dropped")
		return ErrSinkSaturated
	}
	return nil
}

func (s *QueueSink) handoff(rec ChangeRecord) bool {
	if ok, closed := trySendNonBlocking(s.jobs, rec); closed {
		return false
	} else if ok {
		return true
	}
	if s.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	ok, _ := sendWithTimer(s.jobs, rec, timer.C)
	return ok
}

// Close stops accepting records and waits for queued ones to be written.
func (s *QueueSink) Close() {
	s.once.Do(func() {
		close(s.jobs)
		s.wg.Wait()
	})
}

func trySendNonBlocking(ch chan ChangeRecord, rec ChangeRecord) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- rec:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan ChangeRecord, rec ChangeRecord, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- rec:
		return true, false
	case <-timer:
		return false, false
	}
}

// AzureQueue is an Enqueuer backed by an Azure Storage queue.
type AzureQueue struct {
	client *azqueue.QueueClient
}

func NewAzureQueue(connStr, queue string) (*AzureQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return &AzureQueue{client: client}, nil
}

// EnsureQueue creates the queue when missing.
func (a *AzureQueue) EnsureQueue(ctx context.Context) error {
	_, err := a.client.Create(ctx, nil)
	var respErr *azcore.ResponseError
	if err != nil && errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

func (a *AzureQueue) EnqueueMessage(ctx context.Context, content string) error {
	_, err := a.client.EnqueueMessage(ctx, content, nil)
	return err
}
