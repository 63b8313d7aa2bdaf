package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	IncOrder("buy", "filled")
	IncRepair("collapse")
	SetActiveTranches("005930", 3)
	SetHalted(true)

	body := scrape(t)
	assert.Contains(t, body, `split_orders_total{outcome="filled",side="buy"} 1`)
	assert.Contains(t, body, `split_reconcile_repairs_total{kind="collapse"} 1`)
	assert.Contains(t, body, `split_active_tranches{symbol="005930"} 3`)
	assert.Contains(t, body, "split_emergency_halted 1")

	SetHalted(false)
	assert.Contains(t, scrape(t), "split_emergency_halted 0")
}
