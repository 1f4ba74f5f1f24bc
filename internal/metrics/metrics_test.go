package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RunsTotal.WithLabelValues("completed").Inc()
	RejectionsTotal.WithLabelValues("too long").Inc()
	AttemptsTotal.WithLabelValues("post", "published").Inc()
	FallbacksTotal.Inc()

	body := scrape(t)
	assert.Contains(t, body, `ebooks_runs_total{outcome="completed"}`)
	assert.Contains(t, body, `ebooks_rejections_total{reason="too long"}`)
	assert.Contains(t, body, `ebooks_attempts_total{kind="post",status="published"}`)
	assert.Contains(t, body, "ebooks_generator_fallbacks_total")
}
