package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/evetabi/predex/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Trade("binary", "buy", 10)
		m.Order("placed")
		m.Fill("amm")
		m.Resolved("oracle")
		m.Settled(3)
		m.Claim("paid")
		m.ConservationViolation()
		m.ObserveSweep("settle", 0.1)
		m.PublishFailed()
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New("predex")
	m.Trade("binary", "buy", 25)
	m.Trade("binary", "buy", 5)
	m.ConservationViolation()

	n, err := testutil.GatherAndCount(m.Registry(), "predex_trades_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `predex_trade_volume_total{side="buy"} 30`)
	assert.Contains(t, string(body), "predex_conservation_violations_total 1")
}
