package queue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	body := []byte(`{"job_id":"j1"}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)

	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), Sign("s3cret", body))
	assert.NotEqual(t, Sign("s3cret", body), Sign("other", body))
}

type delivery struct {
	header http.Header
	body   []byte
}

func TestNotifySendsSignedWebhook(t *testing.T) {
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: body}
	}))
	defer srv.Close()

	job := NewJob(JobRequest{
		Type:   JobTypeFetch,
		URL:    "https://example.com",
		Notify: &NotifyConfig{WebhookURL: srv.URL, WebhookSecret: "s3cret"},
	})
	job.SetStatus(JobStatusSucceeded)

	NewNotifier(discardLogger()).Notify(job)

	var d delivery
	select {
	case d = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	assert.Equal(t, "job.succeeded", d.header.Get("X-Seekr-Event"))
	assert.Equal(t, Sign("s3cret", d.body), d.header.Get(SignatureHeader))

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(d.body, &payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, JobStatusSucceeded, payload.Status)
}

func TestNotifySkipsWithoutWebhook(t *testing.T) {
	job := NewJob(JobRequest{Type: JobTypeFetch, URL: "u"})
	// Must not panic or block.
	NewNotifier(discardLogger()).Notify(job)
}
