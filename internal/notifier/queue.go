package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
)

// ErrQueueClosed is returned for sends after Stop.
var ErrQueueClosed = errors.New("delivery queue closed")

type deliveryJob struct {
	ctx      context.Context
	channel  string
	endpoint string
	subject  string
	body     string
}

// Queue hands sends to a fixed worker pool so a slow channel never blocks the
// event producer. With zero workers every send runs inline on the caller.
type Queue struct {
	next    notification.NotificationSender
	workers int
	jobs    chan deliveryJob
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ notification.NotificationSender = (*Queue)(nil)

func NewQueue(next notification.NotificationSender, workers, size int, m *metrics.Metrics, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 0 {
		workers = 0
	}
	if size <= 0 {
		size = 1000
	}
	return &Queue{
		next:    next,
		workers: workers,
		jobs:    make(chan deliveryJob, size),
		metrics: m,
		logger:  log,
	}
}

// Start 启动工作池
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("Delivery queue started",
		zap.Int("workers", q.workers),
		zap.Int("queue_size", cap(q.jobs)))
}

// Stop closes the queue and waits for queued jobs to drain or ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Delivery queue stopped")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Delivery queue stopped before draining", zap.Int("pending", len(q.jobs)))
		return ctx.Err()
	}
}

func (q *Queue) SendEmail(ctx context.Context, address, subject, body string) error {
	return q.enqueue(deliveryJob{ctx: ctx, channel: notification.ChannelEmail, endpoint: address, subject: subject, body: body})
}

func (q *Queue) SendSMS(ctx context.Context, phone, body string) error {
	return q.enqueue(deliveryJob{ctx: ctx, channel: notification.ChannelSMS, endpoint: phone, body: body})
}

func (q *Queue) enqueue(job deliveryJob) error {
	if q.workers == 0 {
		return q.run(job)
	}

	// the caller's request may finish long before the worker picks the job up
	job.ctx = context.WithoutCancel(job.ctx)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("%w: %w", notification.ErrDeliveryFailure, ErrQueueClosed)
	}

	select {
	case q.jobs <- job:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		q.metrics.IncQueueDropped()
		q.logger.Warn("Delivery queue full, dropping notification",
			zap.String("channel", job.channel),
			zap.String("endpoint", job.endpoint))
		return fmt.Errorf("%w: queue full", notification.ErrDeliveryFailure)
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.metrics.SetQueueDepth(len(q.jobs))
		if err := q.run(job); err != nil {
			q.logger.Warn("Queued delivery failed",
				zap.Int("worker", id),
				zap.String("channel", job.channel),
				zap.String("endpoint", job.endpoint),
				zap.Error(err))
		}
	}
}

func (q *Queue) run(job deliveryJob) error {
	if job.channel == notification.ChannelSMS {
		return q.next.SendSMS(job.ctx, job.endpoint, job.body)
	}
	return q.next.SendEmail(job.ctx, job.endpoint, job.subject, job.body)
}
