package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrdadan/seekr/internal/metrics"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the JetStream stream
	StreamName = "SEEKR_JOBS"
	// SubjectName is the subject for job messages
	SubjectName = "seekr.jobs"
	// ConsumerName is the name of the durable consumer
	ConsumerName = "seekr-worker"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	Process(ctx context.Context, job *Job, hooks Hooks) (interface{}, error)
}

// Hooks lets a processor report progress while it runs. Nil fields are
// ignored.
type Hooks struct {
	Progress func(progress int, message string)
	Stage    func(stage string)
	Attempt  func(a resolver.Attempt)
}

func (h Hooks) progress(p int, msg string) {
	if h.Progress != nil {
		h.Progress(p, msg)
	}
}

func (h Hooks) stage(s string) {
	if h.Stage != nil {
		h.Stage(s)
	}
}

// Manager manages the job queue
type Manager struct {
	js       jetstream.JetStream
	store    *Store
	events   *EventHub
	notifier *Notifier
	stream   jetstream.Stream
	consumer jetstream.Consumer
	logger   *slog.Logger

	mu        sync.Mutex
	isRunning bool
	inflight  map[string]context.CancelFunc

	// jobMu guards the fields of every stored *Job. The worker and the
	// HTTP handlers share those pointers; readers get copies.
	jobMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a queue manager and makes sure its stream and durable
// consumer exist.
func NewManager(js jetstream.JetStream, logger *slog.Logger) (*Manager, error) {
	m := newManager(js, logger)
	if err := m.setupStream(); err != nil {
		m.cancel()
		m.store.Stop()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return m, nil
}

func newManager(js jetstream.JetStream, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue")
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		js:       js,
		store:    NewStore(logger),
		events:   NewEventHub(),
		notifier: NewNotifier(logger),
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) setupStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Seekr browser job queue",
		Subjects:    []string{SubjectName},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.stream = stream

	consumer, err := m.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          ConsumerName,
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    3,
		AckWait:       5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	m.consumer = consumer

	return nil
}

// Start starts processing jobs from the queue
func (m *Manager) Start(processor JobProcessor) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("job queue worker started", "stream", StreamName, "consumer", ConsumerName)

	go func() {
		for {
			select {
			case <-m.ctx.Done():
				return
			default:
			}

			msgs, err := m.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if m.ctx.Err() == nil {
					m.logger.Debug("fetch failed", "error", err)
				}
				continue
			}
			for msg := range msgs.Messages() {
				m.processMessage(msg, processor)
			}
		}
	}()

	return nil
}

// Stop stops the worker and the store cleanup loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.store.Stop()
	m.events.Close()
	if !m.isRunning {
		return
	}
	m.isRunning = false
	m.logger.Info("job queue worker stopped")
}

// Enqueue adds a job to the queue. A job whose idempotency key is already
// held by a live job is not published again; the existing job is returned
// with duplicate set.
func (m *Manager) Enqueue(job *Job) (*Job, bool, error) {
	stored, duplicate := m.store.SaveIfAbsent(job)
	if duplicate {
		return m.snapshot(stored), true, nil
	}

	// Copy before publishing; a worker may pick the job up right away.
	queued := m.snapshot(job)
	if err := m.publish(queued); err != nil {
		_ = m.store.Delete(job.ID)
		return nil, false, err
	}

	m.events.Emit(queued.ID, Event{
		JobID:   queued.ID,
		Status:  queued.Status,
		Message: "Job queued",
	})
	m.logger.Info("job queued", "job_id", queued.ID, "type", queued.Type, "url", queued.Request.URL)

	return queued, false, nil
}

// GetJob returns a copy of the job with the given ID.
func (m *Manager) GetJob(jobID string) (*Job, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	return m.snapshot(job), nil
}

// ListJobs returns copies of every live job.
func (m *Manager) ListJobs() []*Job {
	jobs := m.store.List()
	for i, job := range jobs {
		jobs[i] = m.snapshot(job)
	}
	return jobs
}

// UpdateJob replaces the stored job with job and emits an event.
func (m *Manager) UpdateJob(job *Job) error {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	return m.commit(job)
}

// snapshot copies job under the job lock.
func (m *Manager) snapshot(job *Job) *Job {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	return job.clone()
}

// mutate applies fn to a stored job and publishes the change. Once the job
// is canceled it reports false without calling fn, so a worker can never
// overwrite a cancellation.
func (m *Manager) mutate(job *Job, fn func()) bool {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	if job.Status == JobStatusCanceled {
		return false
	}
	fn()
	if err := m.commit(job); err != nil {
		m.logger.Debug("job update dropped", "job_id", job.ID, "error", err)
	}
	return true
}

// commit must be called with jobMu held.
func (m *Manager) commit(job *Job) error {
	if err := m.store.Update(job); err != nil {
		return err
	}

	m.events.Emit(job.ID, Event{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
	})
	return nil
}

// CancelJob cancels a queued or running job. A running job has its context
// canceled, which stops element resolution at the next attempt boundary; the
// worker leaves the canceled status in place.
func (m *Manager) CancelJob(jobID string) (*Job, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return nil, err
	}

	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	switch job.Status {
	case JobStatusQueued, JobStatusRunning, JobStatusRetrying:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrJobNotCancelable, job.Status)
	}

	m.mu.Lock()
	stop := m.inflight[jobID]
	m.mu.Unlock()
	if stop != nil {
		stop()
	}

	job.SetStatus(JobStatusCanceled)
	job.Message = "Job canceled"
	if err := m.commit(job); err != nil {
		return nil, err
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusCanceled)).Inc()

	return job.clone(), nil
}

// Subscribe subscribes to job events
func (m *Manager) Subscribe(jobID string) <-chan Event {
	return m.events.Subscribe(jobID)
}

// Unsubscribe unsubscribes from job events
func (m *Manager) Unsubscribe(jobID string, ch <-chan Event) {
	m.events.Unsubscribe(jobID, ch)
}

func (m *Manager) publish(job *Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.js.Publish(ctx, SubjectName, data); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (m *Manager) processMessage(msg jetstream.Msg, processor JobProcessor) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		m.logger.Error("failed to unmarshal job", "error", err)
		_ = msg.Term()
		return
	}

	storedJob, err := m.store.Get(job.ID)
	if err != nil {
		// Unknown to this process, e.g. published before a restart.
		m.logger.Warn("dropping job missing from store", "job_id", job.ID, "error", err)
		_ = msg.Ack()
		return
	}

	state := m.snapshot(storedJob)
	if state.Status == JobStatusCanceled {
		_ = msg.Ack()
		return
	}

	if state.Status == JobStatusRetrying && state.NextRetryAt > 0 {
		waitUntil := time.Unix(state.NextRetryAt, 0)
		if time.Now().Before(waitUntil) {
			_ = msg.NakWithDelay(time.Until(waitUntil))
			return
		}
	}

	if m.execute(storedJob, processor) {
		if err := m.publish(m.snapshot(storedJob)); err != nil {
			m.logger.Error("failed to re-enqueue job for retry", "job_id", storedJob.ID, "error", err)
			m.mutate(storedJob, func() { storedJob.SetError(err.Error()) })
		}
	}
	_ = msg.Ack()
}

// execute runs one attempt of job and records the outcome. It reports
// whether the job should be published again for a retry.
func (m *Manager) execute(job *Job, processor JobProcessor) bool {
	logger := m.logger.With("job_id", job.ID, "type", job.Type)

	ctx, cancel := context.WithTimeout(m.ctx, job.GetTimeoutDuration())
	defer cancel()

	m.mu.Lock()
	m.inflight[job.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, job.ID)
		m.mu.Unlock()
	}()

	if !m.mutate(job, func() {
		job.Trace = nil
		job.SetStatus(JobStatusRunning)
		job.SetProgress(0, "Processing started")
	}) {
		logger.Info("skipping canceled job")
		return false
	}

	hooks := Hooks{
		Progress: func(p int, message string) {
			m.mutate(job, func() { job.SetProgress(p, message) })
		},
		Stage: func(stage string) {
			m.mutate(job, func() { job.SetStage(stage) })
		},
		Attempt: func(a resolver.Attempt) {
			m.events.Emit(job.ID, Event{
				JobID:   job.ID,
				Kind:    EventKindAttempt,
				Status:  JobStatusRunning,
				Message: a.String(),
				Attempt: &a,
			})
		},
	}

	result, err := processor.Process(ctx, job, hooks)

	if errors.Is(ctx.Err(), context.Canceled) && m.ctx.Err() == nil {
		logger.Info("job canceled while running")
		return false
	}

	if err != nil {
		var rerr *resolver.ResolutionError
		retry := false
		if !m.mutate(job, func() {
			if errors.As(err, &rerr) {
				job.Trace = rerr.Trace
			}
			if retryable(err) && job.CanRetry() {
				retry = true
				job.LastError = err.Error()
				job.PrepareRetry()
				job.Message = fmt.Sprintf("Retrying (%d/%d): %s", job.RetryCount, job.MaxRetries, err.Error())
				return
			}
			job.SetError(err.Error())
		}) {
			return false
		}

		if retry {
			logger.Warn("job failed, retrying", "error", err)
			return true
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusFailed)).Inc()
		logger.Error("job failed", "error", err)
		m.notifier.Notify(m.snapshot(job))
		return false
	}

	if !m.mutate(job, func() {
		job.SetResult(result)
		job.Message = "Job completed successfully"
	}) {
		return false
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusSucceeded)).Inc()
	logger.Info("job succeeded")
	m.notifier.Notify(m.snapshot(job))
	return false
}

// retryable reports whether another run could change the outcome.
func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidJob) && !errors.Is(err, resolver.ErrPreconditionFailed)
}
