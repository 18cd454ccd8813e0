package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ahrdadan/seekr/internal/api"
	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/queue"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBrowser answers every element call with info or err.
type stubBrowser struct {
	res     *resolver.Resolver
	running bool
	err     error

	lastTarget browser.ElementTarget
	lastFields []browser.FieldValue
}

func newStubBrowser() *stubBrowser {
	return &stubBrowser{
		res:     resolver.New(resolver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))),
		running: true,
	}
}

func (b *stubBrowser) IsRunning() bool              { return b.running }
func (b *stubBrowser) GetEndpoint() string          { return "ws://stub" }
func (b *stubBrowser) Resolver() *resolver.Resolver { return b.res }

func (b *stubBrowser) FetchPage(ctx context.Context, url string, opts browser.PageOptions) (*browser.PageResult, error) {
	return &browser.PageResult{URL: url, Title: "Stub", Links: []string{url + "/a"}}, b.err
}

func (b *stubBrowser) TakeScreenshot(ctx context.Context, url string, fullPage bool, opts browser.PageOptions) ([]byte, error) {
	return []byte("png"), b.err
}

func (b *stubBrowser) EvaluateScript(ctx context.Context, url string, script string, opts browser.PageOptions) (interface{}, error) {
	return 42, b.err
}

func (b *stubBrowser) GetPageInfo(ctx context.Context, url string, opts browser.PageOptions) (*browser.PageResult, error) {
	return &browser.PageResult{URL: url, Title: "Stub"}, b.err
}

func (b *stubBrowser) element(target browser.ElementTarget) (*browser.ElementInfo, error) {
	b.lastTarget = target
	if b.err != nil {
		return nil, b.err
	}
	return &browser.ElementInfo{Tag: "button", Visible: true, Strategy: resolver.StrategyID, Query: target.Target, Attempt: 1}, nil
}

func (b *stubBrowser) ClickElement(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return b.element(target)
}

func (b *stubBrowser) TypeInto(ctx context.Context, url string, target browser.ElementTarget, text string, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return b.element(target)
}

func (b *stubBrowser) FillForm(ctx context.Context, url string, fields []browser.FieldValue, opts browser.PageOptions) ([]browser.ElementInfo, error) {
	b.lastFields = fields
	if b.err != nil {
		return nil, b.err
	}
	infos := make([]browser.ElementInfo, len(fields))
	for i, f := range fields {
		infos[i] = browser.ElementInfo{Tag: "input", Query: f.Field.Target}
	}
	return infos, nil
}

func (b *stubBrowser) WaitFor(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return b.element(target)
}

func (b *stubBrowser) ScrollIntoView(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return b.element(target)
}

func (b *stubBrowser) InspectElement(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return b.element(target)
}

// memQueue is an in-memory JobQueue.
type memQueue struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
	keys map[string]string
}

func newMemQueue() *memQueue {
	return &memQueue{jobs: map[string]*queue.Job{}, keys: map[string]string{}}
}

func (q *memQueue) Enqueue(job *queue.Job) (*queue.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.keys[job.IdempotencyKey]; ok && job.IdempotencyKey != "" {
		return q.jobs[id], true, nil
	}
	q.jobs[job.ID] = job
	if job.IdempotencyKey != "" {
		q.keys[job.IdempotencyKey] = job.ID
	}
	return job, false, nil
}

func (q *memQueue) GetJob(id string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, queue.ErrJobNotFound)
	}
	return job, nil
}

func (q *memQueue) CancelJob(id string) (*queue.Job, error) {
	job, err := q.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, queue.ErrJobNotCancelable
	}
	job.SetStatus(queue.JobStatusCanceled)
	return job, nil
}

func (q *memQueue) Subscribe(id string) <-chan queue.Event {
	ch := make(chan queue.Event)
	close(ch)
	return ch
}

func (q *memQueue) Unsubscribe(id string, ch <-chan queue.Event) {}

func setupTestApp(b browser.Client, q api.JobQueue) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	api.SetupRoutes(app, b)
	if q != nil {
		cfg := api.DefaultRouteConfig()
		cfg.BaseURL = "https://seekr.test"
		api.SetupJobRoutes(app, q, b.Resolver().Registry(), cfg)
	}
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path string, body interface{}, headers ...string) (int, envelope, map[string][]string) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env, resp.Header
}

func TestHealthCheck(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	code, env, _ := do(t, app, "GET", "/health", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestBrowserStatusIncludesResolverDefaults(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	code, env, headers := do(t, app, "GET", "/seekr/browser/status", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(env.Data), `"running":true`)
	assert.Contains(t, string(env.Data), `"resolver"`)
	assert.Equal(t, "nosniff", headers["X-Content-Type-Options"][0])
}

func TestFetchPageRequiresURL(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	code, env, _ := do(t, app, "POST", "/seekr/page/fetch", map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "URL is required", env.Error)
}

func TestExtractLinks(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	code, env, _ := do(t, app, "POST", "/seekr/page/links", map[string]string{"url": "https://example.com"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"url":"https://example.com","links":["https://example.com/a"],"count":1}`, string(env.Data))
}

func TestClickElementAppliesOptions(t *testing.T) {
	b := newStubBrowser()
	app := setupTestApp(b, nil)

	code, env, _ := do(t, app, "POST", "/seekr/element/click", map[string]interface{}{
		"url":        "https://example.com",
		"target":     "submit",
		"strategies": []string{"id", "text"},
		"options":    map[string]interface{}{"timeout_ms": 500, "visible": false},
	})
	require.Equal(t, fiber.StatusOK, code, env.Error)

	var data struct {
		Clicked bool                `json:"clicked"`
		Element browser.ElementInfo `json:"element"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.Clicked)
	assert.Equal(t, "submit", data.Element.Query)

	assert.Equal(t, []resolver.Strategy{resolver.StrategyID, resolver.StrategyText}, b.lastTarget.Strategies)
	assert.Equal(t, 500*time.Millisecond, b.lastTarget.Options.Timeout)
	assert.False(t, b.lastTarget.Options.RequireVisible)
	assert.Equal(t, resolver.DefaultOptions().MaxRetries, b.lastTarget.Options.MaxRetries)
}

func TestElementValidation(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	code, env, _ := do(t, app, "POST", "/seekr/element/wait", map[string]string{"url": "https://example.com"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "URL and target are required", env.Error)

	code, env, _ = do(t, app, "POST", "/seekr/element/scroll", map[string]interface{}{
		"url":        "https://example.com",
		"target":     "x",
		"strategies": []string{"shadow"},
	})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, env.Error, "shadow")
}

func TestResolutionFailureReturnsTrace(t *testing.T) {
	b := newStubBrowser()
	b.err = fmt.Errorf("click: %w", &resolver.ResolutionError{
		Target:     "Buy now",
		Strategies: []resolver.Strategy{resolver.StrategyText},
		Trace: []resolver.Attempt{
			{Strategy: resolver.StrategyText, Index: 1, Outcome: resolver.OutcomeNotFound, Message: "no match"},
		},
		Snapshot:         []byte("png"),
		DeadlineExceeded: true,
	})
	app := setupTestApp(b, nil)

	code, env, _ := do(t, app, "POST", "/seekr/element/click", map[string]string{
		"url":    "https://example.com",
		"target": "Buy now",
	})
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "Buy now")

	var failure api.ResolutionFailure
	require.NoError(t, json.Unmarshal(env.Data, &failure))
	assert.Equal(t, "Buy now", failure.Target)
	assert.True(t, failure.DeadlineExceeded)
	require.Len(t, failure.Trace, 1)
	assert.Equal(t, resolver.OutcomeNotFound, failure.Trace[0].Outcome)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), failure.Snapshot)
}

func TestPreconditionFailed(t *testing.T) {
	b := newStubBrowser()
	b.err = resolver.ErrPreconditionFailed
	app := setupTestApp(b, nil)

	code, _, _ := do(t, app, "POST", "/seekr/element/inspect", map[string]string{
		"url":    "https://example.com",
		"target": "main",
	})
	assert.Equal(t, fiber.StatusPreconditionFailed, code)
}

func TestFillForm(t *testing.T) {
	b := newStubBrowser()
	app := setupTestApp(b, nil)

	code, env, _ := do(t, app, "POST", "/seekr/element/fill", map[string]interface{}{
		"url": "https://example.com/login",
		"fields": []map[string]interface{}{
			{"target": "email", "strategies": []string{"name"}, "value": "a@b.c"},
			{"target": "Password", "value": "secret"},
		},
		"options": map[string]interface{}{"max_retries": 1},
	})
	require.Equal(t, fiber.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"filled":true`)

	require.Len(t, b.lastFields, 2)
	assert.Equal(t, []resolver.Strategy{resolver.StrategyName}, b.lastFields[0].Field.Strategies)
	assert.Equal(t, "secret", b.lastFields[1].Value)
	for _, f := range b.lastFields {
		assert.Equal(t, 1, f.Field.Options.MaxRetries)
	}
}

func TestRequireJSON(t *testing.T) {
	app := setupTestApp(newStubBrowser(), nil)

	req := httptest.NewRequest("POST", "/seekr/page/fetch", bytes.NewBufferString("url=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestCreateJobAndDuplicate(t *testing.T) {
	b := newStubBrowser()
	q := newMemQueue()
	app := setupTestApp(b, q)

	body := map[string]interface{}{
		"url":     "https://example.com",
		"action":  "click",
		"target":  "Go",
		"timeout": 3600,
	}
	code, env, headers := do(t, app, "POST", "/seekr/jobs", body, api.IdempotencyHeader, "k1")
	require.Equal(t, fiber.StatusAccepted, code, env.Error)

	var created queue.JobCreatedResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, queue.JobStatusQueued, created.Status)
	assert.False(t, created.Duplicate)
	assert.Equal(t, "https://seekr.test/seekr/jobs/"+created.JobID, created.StatusURL)
	assert.Equal(t, "wss://seekr.test/seekr/ws?job_id="+created.JobID, created.Events.WSURL)
	assert.Empty(t, headers["X-Idempotency-Hit"])

	job, err := q.GetJob(created.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobTypeInteract, job.Type)
	assert.Equal(t, 300, job.Timeout, "clamped to the max job timeout")

	code, env, headers = do(t, app, "POST", "/seekr/jobs", body, api.IdempotencyHeader, "k1")
	require.Equal(t, fiber.StatusAccepted, code)
	var dup queue.JobCreatedResponse
	require.NoError(t, json.Unmarshal(env.Data, &dup))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, created.JobID, dup.JobID)
	assert.Equal(t, "true", headers["X-Idempotency-Hit"][0])
}

func TestCreateJobRejectsUnknownStrategy(t *testing.T) {
	app := setupTestApp(newStubBrowser(), newMemQueue())

	code, _, _ := do(t, app, "POST", "/seekr/jobs", map[string]interface{}{
		"url":        "https://example.com",
		"action":     "click",
		"target":     "Go",
		"strategies": []string{"nope"},
	})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestJobStatusResultAndCancel(t *testing.T) {
	q := newMemQueue()
	app := setupTestApp(newStubBrowser(), q)

	job := queue.NewJob(queue.JobRequest{Type: queue.JobTypeFetch, URL: "https://example.com"})
	_, _, err := q.Enqueue(job)
	require.NoError(t, err)

	code, env, _ := do(t, app, "GET", "/seekr/jobs/"+job.ID, nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"queued"`)

	code, _, _ = do(t, app, "GET", "/seekr/jobs/"+job.ID+"/result", nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _, _ = do(t, app, "POST", "/seekr/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, fiber.StatusOK, code)

	code, _, _ = do(t, app, "POST", "/seekr/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _, _ = do(t, app, "GET", "/seekr/jobs/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}
