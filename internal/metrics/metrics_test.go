package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/resilience"
)

func TestCollector_Counts(t *testing.T) {
	c := New()
	cand := resilience.Candidate{ID: "gemini:a"}
	c.ObserveAttempt(resilience.Attempt{Candidate: cand, Kind: resilience.KindRetryable, Duration: time.Millisecond})
	c.ObserveAttempt(resilience.Attempt{Candidate: cand, Kind: resilience.KindSuccess, Duration: time.Millisecond})
	c.AnswerServed("chat", advisor.SourceOffline)
	c.EdgeServed("cache")
	c.SyncReplayed("sync-journal-entries", "done")

	body := scrape(t, c)
	for _, line := range []string{
		`agrisense_provider_attempts_total{candidate="gemini:a",kind="retryable"} 1`,
		`agrisense_provider_attempts_total{candidate="gemini:a",kind="success"} 1`,
		`agrisense_answers_total{op="chat",source="offline"} 1`,
		`agrisense_edge_responses_total{source="cache"} 1`,
		`agrisense_sync_jobs_total{result="done",tag="sync-journal-entries"} 1`,
		`agrisense_provider_attempt_duration_seconds_count{candidate="gemini:a"} 2`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveAttempt(resilience.Attempt{})
	c.AnswerServed("chat", advisor.SourceProvider)
	c.EdgeServed("network")
	c.SyncReplayed("t", "done")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.AnswerServed("recommend", advisor.SourceProvider)

	assert.Contains(t, scrape(t, c), `agrisense_answers_total{op="recommend",source="provider"} 1`)
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
