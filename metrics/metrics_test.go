package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping/42", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Contains(t, scrape(t), `campusconnect_http_requests_total{method="GET",path="/api/ping/:id",status="204"} 1`)
}

func TestRecorders(t *testing.T) {
	RecordDebit("reveal", 70)
	RecordCredit("daily_reward", 20)
	RecordLikeOutcome("match")
	RecordBlindMatch()
	RecordSessionTransition("abandoned", 0)
	RecordSessionTransition("expired", 2)
	RecordSweep(0, 3, true)

	body := scrape(t)
	assert.Contains(t, body, `campusconnect_ledger_coins_debited_total{reason="reveal"} 70`)
	assert.Contains(t, body, `campusconnect_ledger_coins_credited_total{reason="daily_reward"} 20`)
	assert.Contains(t, body, `campusconnect_likes_outcomes_total{outcome="match"} 1`)
	assert.Contains(t, body, `campusconnect_blind_session_transitions_total{transition="expired"} 2`)
	assert.NotContains(t, body, `transition="abandoned"`)
	assert.Contains(t, body, `campusconnect_sweeper_runs_total{success="true"} 1`)
	assert.Contains(t, body, "campusconnect_sweeper_queue_entries_removed_total 3")
}
