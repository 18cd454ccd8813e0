package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFunc func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error)

func (f processorFunc) Process(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
	return f(ctx, job, hooks)
}

func newTestManager(t *testing.T) *Manager {
	m := newManager(nil, discardLogger())
	t.Cleanup(m.Stop)
	return m
}

func storedJob(t *testing.T, m *Manager, req JobRequest) *Job {
	job := NewJob(req)
	require.NoError(t, m.store.Save(job))
	return job
}

func TestExecuteSuccess(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})

	retry := m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
		hooks.progress(50, "half")
		return "done", nil
	}))

	assert.False(t, retry)
	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusSucceeded, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.NotZero(t, got.CompletedAt)
}

func TestExecuteStoresTraceAndRetries(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeInteract, URL: "u", Action: ActionClick, Target: "Go"})

	trace := []resolver.Attempt{
		{Strategy: resolver.StrategyID, Query: `[id="Go"]`, Outcome: resolver.OutcomeNotFound},
	}
	failing := processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
		return nil, fmt.Errorf("click: %w", &resolver.ResolutionError{Target: "Go", Trace: trace})
	})

	require.True(t, m.execute(job, failing))
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, trace, job.Trace)
	assert.Contains(t, job.LastError, "Go")

	job.RetryCount = job.MaxRetries
	require.False(t, m.execute(job, failing))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, trace, job.Trace)
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	for _, cause := range []error{resolver.ErrPreconditionFailed, ErrInvalidJob} {
		m := newTestManager(t)
		job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})

		retry := m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
			return nil, fmt.Errorf("wrapped: %w", cause)
		}))

		assert.False(t, retry, cause.Error())
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Zero(t, job.RetryCount)
	}
}

func TestExecuteStreamsAttempts(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeInteract, URL: "u", Action: ActionWait, Target: "x"})

	events := m.Subscribe(job.ID)
	defer m.Unsubscribe(job.ID, events)

	m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
		hooks.Attempt(resolver.Attempt{Strategy: resolver.StrategyCSS, Query: "x", Outcome: resolver.OutcomeNotFound})
		hooks.Attempt(resolver.Attempt{Strategy: resolver.StrategyCSS, Query: "x", Index: 1, Outcome: resolver.OutcomeSuccess})
		return nil, nil
	}))

	var attempts []resolver.Attempt
	var last Event
	for len(events) > 0 {
		ev := <-events
		if ev.Kind == EventKindAttempt {
			require.NotNil(t, ev.Attempt)
			attempts = append(attempts, *ev.Attempt)
		}
		last = ev
	}

	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[1].Index)
	assert.Equal(t, EventKindStatus, last.Kind)
	assert.Equal(t, JobStatusSucceeded, last.Status)
}

func TestCancelRunningJob(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})

	started := make(chan struct{})
	done := make(chan bool)
	go func() {
		done <- m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	}()

	<-started
	_, err := m.CancelJob(job.ID)
	require.NoError(t, err)

	select {
	case retry := <-done:
		assert.False(t, retry)
	case <-time.After(5 * time.Second):
		t.Fatal("running job was not interrupted")
	}
	assert.Equal(t, JobStatusCanceled, job.Status)

	_, err = m.CancelJob(job.ID)
	assert.ErrorIs(t, err, ErrJobNotCancelable)
}

func TestCancelWhileReportingProgress(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeInteract, URL: "u", Action: ActionWait, Target: "x"})

	started := make(chan struct{})
	var once sync.Once
	done := make(chan bool)
	go func() {
		done <- m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
			for i := 0; ctx.Err() == nil; i++ {
				hooks.progress(i%100, "resolving")
				hooks.stage("resolving")
				once.Do(func() { close(started) })
			}
			return "late result", nil
		}))
	}()

	<-started
	for i := 0; i < 10; i++ {
		got, err := m.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusRunning, got.Status)
	}

	canceled, err := m.CancelJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCanceled, canceled.Status)

	select {
	case retry := <-done:
		assert.False(t, retry)
	case <-time.After(5 * time.Second):
		t.Fatal("running job was not interrupted")
	}

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCanceled, got.Status)
	assert.Equal(t, "Job canceled", got.Message)
	assert.Nil(t, got.Result)
}

func TestCancelAfterCompletionKeepsResult(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})

	require.False(t, m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
		return "done", nil
	})))

	_, err := m.CancelJob(job.ID)
	assert.ErrorIs(t, err, ErrJobNotCancelable)

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusSucceeded, got.Status)
	assert.Equal(t, "done", got.Result)
}

func TestExecuteSkipsCanceledJob(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})

	_, err := m.CancelJob(job.ID)
	require.NoError(t, err)

	retry := m.execute(job, processorFunc(func(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
		t.Error("canceled job must not run")
		return nil, nil
	}))
	assert.False(t, retry)
	assert.Equal(t, JobStatusCanceled, job.Status)
}

func TestGetJobReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	job := storedJob(t, m, JobRequest{Type: JobTypeFetch, URL: "u"})
	m.mutate(job, func() { job.SetStage("fetching") })

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	got.Status = JobStatusFailed
	got.ProgressInfo.Stage = "changed"

	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "fetching", job.ProgressInfo.Stage)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("navigation failed")))
	assert.True(t, retryable(&resolver.ResolutionError{}))
	assert.False(t, retryable(resolver.ErrPreconditionFailed))
	assert.False(t, retryable(fmt.Errorf("x: %w", ErrInvalidJob)))
}
