package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ahrdadan/seekr/internal/queue"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// IdempotencyHeader lets clients deduplicate job submissions.
const IdempotencyHeader = "X-Idempotency-Key"

// JobQueue is the part of the queue manager the job endpoints use.
type JobQueue interface {
	Enqueue(job *queue.Job) (*queue.Job, bool, error)
	GetJob(jobID string) (*queue.Job, error)
	CancelJob(jobID string) (*queue.Job, error)
	Subscribe(jobID string) <-chan queue.Event
	Unsubscribe(jobID string, ch <-chan queue.Event)
}

// JobLimits bounds what a job request may ask for.
type JobLimits struct {
	MaxTimeout time.Duration
	MaxRetries int
	ResultTTL  time.Duration // used when the request sets none
}

// JobHandler handles job-related API requests
type JobHandler struct {
	queue    JobQueue
	registry *resolver.Registry
	limits   JobLimits
	baseURL  string
}

// NewJobHandler creates a new job handler. registry validates strategy names
// up front so a bad request fails with 400 instead of a failed job.
func NewJobHandler(q JobQueue, registry *resolver.Registry, limits JobLimits, baseURL string) *JobHandler {
	if registry == nil {
		registry = resolver.NewRegistry()
	}
	return &JobHandler{
		queue:    q,
		registry: registry,
		limits:   limits,
		baseURL:  baseURL,
	}
}

// CreateJob creates a new async job
// POST /seekr/jobs
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req queue.JobRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.Type == "" {
		req.Type = queue.JobTypeFetch
		if req.Action != "" {
			req.Type = queue.JobTypeInteract
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := h.validateStrategies(req); err != nil {
		return err
	}

	if key := c.Get(IdempotencyHeader); key != "" {
		req.IdempotencyKey = key
	}

	job := queue.NewJob(req)
	h.applyLimits(job)

	stored, duplicate, err := h.queue.Enqueue(job)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to enqueue job: %v", err))
	}

	response := queue.JobCreatedResponse{
		JobID:     stored.ID,
		Status:    stored.Status,
		Duplicate: duplicate,
		StatusURL: fmt.Sprintf("%s/seekr/jobs/%s", h.baseURL, stored.ID),
		ResultURL: fmt.Sprintf("%s/seekr/jobs/%s/result", h.baseURL, stored.ID),
	}
	response.Events.SSEURL = fmt.Sprintf("%s/seekr/jobs/%s/events", h.baseURL, stored.ID)
	response.Events.WSURL = fmt.Sprintf("%s/seekr/ws?job_id=%s", wsBase(h.baseURL), stored.ID)

	if duplicate {
		c.Set("X-Idempotency-Hit", "true")
	}

	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Data:    response,
	})
}

func (h *JobHandler) validateStrategies(req queue.JobRequest) error {
	if _, err := h.registry.ParseStrategies(req.Strategies); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	for _, f := range req.Fields {
		if _, err := h.registry.ParseStrategies(f.Strategies); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return nil
}

func (h *JobHandler) applyLimits(job *queue.Job) {
	if limit := int(h.limits.MaxTimeout.Seconds()); limit > 0 && job.Timeout > limit {
		job.Timeout = limit
	}
	if h.limits.MaxRetries > 0 && job.MaxRetries > h.limits.MaxRetries {
		job.MaxRetries = h.limits.MaxRetries
	}
	if job.Request.ResultTTL <= 0 && h.limits.ResultTTL > 0 {
		job.ExpiresAt = job.CreatedAt + int64(h.limits.ResultTTL.Seconds())
	}
}

// GetJobStatus returns the status of a job
// GET /seekr/jobs/:job_id
func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	job, err := h.queue.GetJob(c.Params("job_id"))
	if err != nil {
		return err
	}

	response := map[string]interface{}{
		"job_id":     job.ID,
		"type":       job.Type,
		"status":     job.Status,
		"progress":   job.Progress,
		"message":    job.Message,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
		"priority":   job.Priority,
	}

	if job.ProgressInfo != nil {
		response["progress_info"] = job.ProgressInfo
	}

	if job.Status == queue.JobStatusRetrying || job.RetryCount > 0 {
		retryInfo := map[string]interface{}{
			"retry_count": job.RetryCount,
			"max_retries": job.MaxRetries,
			"last_error":  job.LastError,
		}
		if job.NextRetryAt > 0 {
			retryInfo["next_retry_at"] = time.Unix(job.NextRetryAt, 0).Format(time.RFC3339)
		}
		response["retry_info"] = retryInfo
	}

	if job.ExpiresAt > 0 {
		response["expires_at"] = time.Unix(job.ExpiresAt, 0).Format(time.RFC3339)
	}

	return c.JSON(Response{
		Success: true,
		Data:    response,
	})
}

// GetJobResult returns the result of a completed job. Failed interact jobs
// carry the resolution trace of their last run.
// GET /seekr/jobs/:job_id/result
func (h *JobHandler) GetJobResult(c *fiber.Ctx) error {
	job, err := h.queue.GetJob(c.Params("job_id"))
	if err != nil {
		return err
	}

	if job.Status != queue.JobStatusSucceeded && job.Status != queue.JobStatusFailed {
		return fiber.NewError(fiber.StatusConflict, "Job not completed yet")
	}

	return c.JSON(Response{
		Success: true,
		Data: queue.JobResultResponse{
			JobID:  job.ID,
			Status: job.Status,
			Result: job.Result,
			Error:  job.Error,
			Trace:  job.Trace,
		},
	})
}

// CancelJob cancels a queued or running job
// POST /seekr/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	job, err := h.queue.CancelJob(c.Params("job_id"))
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		},
	})
}

// StreamEvents streams job events via SSE
// GET /seekr/jobs/:job_id/events
func (h *JobHandler) StreamEvents(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	job, err := h.queue.GetJob(jobID)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	initial := statusEvent(job)
	if job.IsTerminal() {
		data, _ := json.Marshal(initial)
		return c.SendString(fmt.Sprintf("data: %s\n\n", data))
	}

	events := h.queue.Subscribe(jobID)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.queue.Unsubscribe(jobID, events)

		if writeSSE(w, initial) != nil {
			return
		}
		for event := range events {
			if writeSSE(w, event) != nil || isTerminalEvent(event) {
				return
			}
		}
	})

	return nil
}

// HandleWebSocket handles WebSocket connections for job events
// GET /seekr/ws?job_id=...
func (h *JobHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Query("job_id")
	if jobID == "" {
		_ = c.WriteJSON(Response{Success: false, Error: "job_id is required"})
		return
	}

	job, err := h.queue.GetJob(jobID)
	if err != nil {
		_ = c.WriteJSON(Response{Success: false, Error: err.Error()})
		return
	}

	if err := c.WriteJSON(statusEvent(job)); err != nil || job.IsTerminal() {
		return
	}

	events := h.queue.Subscribe(jobID)
	defer h.queue.Unsubscribe(jobID, events)

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}
		if isTerminalEvent(event) {
			return
		}
	}
}

func statusEvent(job *queue.Job) queue.Event {
	return queue.Event{
		JobID:    job.ID,
		Kind:     queue.EventKindStatus,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
	}
}

func isTerminalEvent(e queue.Event) bool {
	if e.Kind != queue.EventKindStatus {
		return false
	}
	return e.Status == queue.JobStatusSucceeded || e.Status == queue.JobStatusFailed || e.Status == queue.JobStatusCanceled
}

func writeSSE(w *bufio.Writer, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	return w.Flush()
}

func wsBase(baseURL string) string {
	if rest, ok := strings.CutPrefix(baseURL, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(baseURL, "http://"); ok {
		return "ws://" + rest
	}
	return baseURL
}
