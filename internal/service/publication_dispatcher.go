package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mentor-scoring-api/internal/models"
	"github.com/noah-isme/mentor-scoring-api/pkg/jobs"
)

// JobTypeRankingPublished identifies the ranking publication fan-out job.
const JobTypeRankingPublished = "ranking.published"

const (
	publicationOutcomePublished   = "published"
	publicationOutcomeAlready     = "already_published"
	publicationOutcomeFailed      = "failed"
	publicationOutcomeUndelivered = "undelivered"
)

type eventBroadcaster interface {
	Broadcast(ctx context.Context, eventType string, data interface{}) error
}

// DispatcherConfig tunes the notification worker pool.
type DispatcherConfig struct {
	Workers        int
	MaxRetries     int
	RetryDelay     time.Duration
	EnqueueTimeout time.Duration
}

// PublicationDispatcher implements scoring.Notifier. Accepting an event means it was queued for
// delivery; the queue worker broadcasts it to subscribers and retries transient sink failures.
type PublicationDispatcher struct {
	queue          *jobs.Queue
	broadcaster    eventBroadcaster
	metrics        *MetricsService
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// NewPublicationDispatcher constructs a dispatcher with its own worker queue.
func NewPublicationDispatcher(broadcaster eventBroadcaster, metrics *MetricsService, cfg DispatcherConfig, logger *zap.Logger) *PublicationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	d := &PublicationDispatcher{
		broadcaster:    broadcaster,
		metrics:        metrics,
		enqueueTimeout: cfg.EnqueueTimeout,
		logger:         logger,
	}
	d.queue = jobs.NewQueue("ranking-notifications", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		DeadLetter: d.deadLetter,
		Logger:     logger,
	})
	return d
}

// Start launches the notification workers.
func (d *PublicationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *PublicationDispatcher) Stop() {
	d.queue.Stop()
}

// NotifyPublished queues the event for broadcast. An error means the event was not accepted.
func (d *PublicationDispatcher) NotifyPublished(ctx context.Context, event models.RankingPublishedEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()
	job := jobs.Job{ID: event.ID, Type: JobTypeRankingPublished, Payload: event}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue ranking publication for project %s: %w", event.ProjectID, err)
	}
	d.logger.Info("ranking publication queued", zap.String("project_id", event.ProjectID), zap.String("event_id", event.ID))
	return nil
}

func (d *PublicationDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.RankingPublishedEvent)
	if !ok {
		d.logger.Error("unexpected publication payload", zap.String("job_id", job.ID), zap.String("payload_type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	if d.broadcaster == nil {
		return nil
	}
	return d.broadcaster.Broadcast(ctx, job.Type, event)
}

func (d *PublicationDispatcher) deadLetter(job jobs.Job, err error) {
	d.metrics.RecordPublication(publicationOutcomeUndelivered)
	d.logger.Error("ranking publication undelivered", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}
