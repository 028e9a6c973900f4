package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTrade("buy_stock", "ok")
	r.RecordTrade("buy_stock", "ok")
	r.RecordTrade("sell_stock", "rejected")
	r.RecordAnomaly("high")
	r.RecordResolution("reversed")
	r.SetCriticState(3)
	r.SetBalance(517595)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.trades.WithLabelValues("buy_stock", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trades.WithLabelValues("sell_stock", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.resolutions.WithLabelValues("reversed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.criticState))
	assert.Equal(t, 517595.0, testutil.ToFloat64(r.balance))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordTrade("buy_stock", "ok")
		r.RecordAnomaly("low")
		r.RecordResolution("timed_out")
		r.SetCriticState(0)
		r.SetBalance(1)
		r.RecordReasonerLatency("decide", 0.1)
		r.RecordParseError()
	})
}
