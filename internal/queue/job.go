package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/google/uuid"
)

// Default values for job configuration
const (
	DefaultJobTimeout = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultResultTTL  = 7 * 24 * time.Hour // 7 days
	DefaultRetryDelay = 5 * time.Second
	MaxRetryDelay     = 5 * time.Minute
)

var (
	// ErrInvalidJob marks requests that can never succeed and are not retried.
	ErrInvalidJob = errors.New("invalid job")
	// ErrJobNotFound is returned for unknown or expired job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancelable is returned when canceling a finished job.
	ErrJobNotCancelable = errors.New("job cannot be canceled")
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusRetrying  JobStatus = "retrying"
)

// JobType represents the type of job
type JobType string

const (
	JobTypeFetch    JobType = "fetch"
	JobTypeInteract JobType = "interact"
)

// Action is the element operation an interact job performs.
type Action string

const (
	ActionClick   Action = "click"
	ActionType    Action = "type"
	ActionFill    Action = "fill"
	ActionWait    Action = "wait"
	ActionScroll  Action = "scroll"
	ActionInspect Action = "inspect"
)

// NotifyConfig holds notification settings for a job
type NotifyConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // HMAC-SHA256 signing key
	WebSocket     bool   `json:"websocket,omitempty"`
}

// RetryConfig holds retry settings for a job
type RetryConfig struct {
	MaxRetries    int     `json:"max_retries"`    // Maximum retry attempts (default: 3)
	RetryDelay    int     `json:"retry_delay"`    // Initial delay between retries in seconds
	BackoffFactor float64 `json:"backoff_factor"` // Exponential backoff multiplier (default: 2.0)
}

// ProgressInfo holds detailed progress information
type ProgressInfo struct {
	Stage   string `json:"stage,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// FieldRequest is one form field of a fill action.
type FieldRequest struct {
	Target     string   `json:"target"`
	Strategies []string `json:"strategies,omitempty"`
	Value      string   `json:"value"`
}

// JobRequest represents a job creation request
type JobRequest struct {
	Type        JobType                `json:"type"`
	URL         string                 `json:"url"`
	Timeout     int                    `json:"timeout"` // seconds (default: 60)
	WaitForLoad bool                   `json:"wait_for_load"`
	Script      string                 `json:"script,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Cookies     []browser.CookieParam  `json:"cookies,omitempty"`
	Action      Action                 `json:"action,omitempty"`
	Target      string                 `json:"target,omitempty"`
	Strategies  []string               `json:"strategies,omitempty"`
	Text        string                 `json:"text,omitempty"`
	Fields      []FieldRequest         `json:"fields,omitempty"`
	Resolve     *resolver.Overrides    `json:"resolve,omitempty"`
	Notify      *NotifyConfig          `json:"notify,omitempty"`
	Retry       *RetryConfig           `json:"retry,omitempty"`
	Priority    int                    `json:"priority,omitempty"`   // Job priority (higher = more urgent)
	ResultTTL   int                    `json:"result_ttl,omitempty"` // Result TTL in seconds (default: 7 days)
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate checks the request shape. Strategy names are checked against the
// resolver registry by the caller.
func (r JobRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidJob)
	}

	switch r.Type {
	case JobTypeFetch:
		return nil
	case JobTypeInteract:
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, r.Type)
	}

	switch r.Action {
	case ActionClick, ActionType, ActionWait, ActionScroll, ActionInspect:
		if r.Target == "" {
			return fmt.Errorf("%w: target is required for %s", ErrInvalidJob, r.Action)
		}
	case ActionFill:
		if len(r.Fields) == 0 {
			return fmt.Errorf("%w: fields are required for fill", ErrInvalidJob)
		}
		for i, f := range r.Fields {
			if f.Target == "" {
				return fmt.Errorf("%w: fields[%d].target is required", ErrInvalidJob, i)
			}
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidJob, r.Action)
	}
	return nil
}

// Job represents a queued job
type Job struct {
	ID             string             `json:"job_id"`
	Type           JobType            `json:"type"`
	Status         JobStatus          `json:"status"`
	Progress       int                `json:"progress"`
	ProgressInfo   *ProgressInfo      `json:"progress_info,omitempty"`
	Message        string             `json:"message,omitempty"`
	Request        JobRequest         `json:"request"`
	Result         interface{}        `json:"result,omitempty"`
	Error          string             `json:"error,omitempty"`
	Trace          []resolver.Attempt `json:"trace,omitempty"`
	CreatedAt      int64              `json:"created_at"`
	UpdatedAt      int64              `json:"updated_at"`
	StartedAt      int64              `json:"started_at,omitempty"`
	CompletedAt    int64              `json:"completed_at,omitempty"`
	ExpiresAt      int64              `json:"expires_at,omitempty"` // When result will be deleted
	Notify         *NotifyConfig      `json:"notify,omitempty"`
	RetryCount     int                `json:"retry_count"`
	MaxRetries     int                `json:"max_retries"`
	NextRetryAt    int64              `json:"next_retry_at,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Priority       int                `json:"priority"`
	Timeout        int                `json:"timeout"` // Job timeout in seconds
}

// NewJob creates a new job from a request
func NewJob(req JobRequest) *Job {
	now := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = int(DefaultJobTimeout.Seconds())
	}

	maxRetries := DefaultMaxRetries
	if req.Retry != nil && req.Retry.MaxRetries > 0 {
		maxRetries = req.Retry.MaxRetries
	}

	resultTTL := DefaultResultTTL
	if req.ResultTTL > 0 {
		resultTTL = time.Duration(req.ResultTTL) * time.Second
	}

	return &Job{
		ID:             generateJobID(),
		Type:           req.Type,
		Status:         JobStatusQueued,
		Request:        req,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(resultTTL).Unix(),
		Notify:         req.Notify,
		MaxRetries:     maxRetries,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
		Timeout:        timeout,
	}
}

// SetStatus updates the job status
func (j *Job) SetStatus(status JobStatus) {
	now := time.Now().Unix()
	j.Status = status
	j.UpdatedAt = now

	if status == JobStatusRunning && j.StartedAt == 0 {
		j.StartedAt = now
	}
	if j.IsTerminal() {
		j.CompletedAt = now
	}
}

// SetProgress updates the job progress
func (j *Job) SetProgress(progress int, message string) {
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = time.Now().Unix()
}

// SetStage records the processing stage without changing the percentage.
func (j *Job) SetStage(stage string) {
	if j.ProgressInfo == nil {
		j.ProgressInfo = &ProgressInfo{}
	}
	j.ProgressInfo.Stage = stage
	j.UpdatedAt = time.Now().Unix()
}

// SetResult sets the job result
func (j *Job) SetResult(result interface{}) {
	j.Result = result
	j.Error = ""
	j.Progress = 100
	j.SetStatus(JobStatusSucceeded)
}

// SetError sets the job error
func (j *Job) SetError(err string) {
	j.Error = err
	j.LastError = err
	j.SetStatus(JobStatusFailed)
}

// clone copies j deeply enough that the copy can be read while j keeps
// changing.
func (j *Job) clone() *Job {
	cp := *j
	if j.ProgressInfo != nil {
		info := *j.ProgressInfo
		cp.ProgressInfo = &info
	}
	return &cp
}

// IsTerminal reports whether the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed || j.Status == JobStatusCanceled
}

// CanRetry returns true if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// RetryDelay returns the wait before retry number n (1-based):
// base * factor^(n-1), capped at MaxRetryDelay.
func (j *Job) RetryDelay(n int) time.Duration {
	factor := 2.0
	base := DefaultRetryDelay
	if r := j.Request.Retry; r != nil {
		if r.BackoffFactor > 0 {
			factor = r.BackoffFactor
		}
		if r.RetryDelay > 0 {
			base = time.Duration(r.RetryDelay) * time.Second
		}
	}

	delay := base
	for i := 1; i < n; i++ {
		delay = time.Duration(float64(delay) * factor)
		if delay > MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}

// PrepareRetry prepares the job for retry
func (j *Job) PrepareRetry() {
	j.RetryCount++
	j.Status = JobStatusRetrying
	j.NextRetryAt = time.Now().Add(j.RetryDelay(j.RetryCount)).Unix()
	j.UpdatedAt = time.Now().Unix()
}

// IsExpired checks if the job result has expired
func (j *Job) IsExpired() bool {
	if j.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > j.ExpiresAt
}

// GetTimeoutDuration returns the job timeout as a time.Duration
func (j *Job) GetTimeoutDuration() time.Duration {
	if j.Timeout <= 0 {
		return DefaultJobTimeout
	}
	return time.Duration(j.Timeout) * time.Second
}

// JobStatusResponse represents a job status response
type JobStatusResponse struct {
	JobID        string        `json:"job_id"`
	Type         JobType       `json:"type"`
	Status       JobStatus     `json:"status"`
	Progress     int           `json:"progress"`
	ProgressInfo *ProgressInfo `json:"progress_info,omitempty"`
	Message      string        `json:"message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// JobResultResponse represents a job result response
type JobResultResponse struct {
	JobID  string             `json:"job_id"`
	Status JobStatus          `json:"status"`
	Result interface{}        `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Trace  []resolver.Attempt `json:"trace,omitempty"`
}

// JobCreatedResponse represents the response when a job is created
type JobCreatedResponse struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Duplicate bool      `json:"duplicate,omitempty"`
	StatusURL string    `json:"status_url"`
	ResultURL string    `json:"result_url"`
	Events    struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

func generateJobID() string {
	return "job_" + uuid.New().String()[:8]
}
