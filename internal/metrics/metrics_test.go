package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSkipsIncrementsPerReason(t *testing.T) {
	before := testutil.ToFloat64(ExecSkipsTotal.WithLabelValues("SKIP_COOLDOWN"))
	RecordSkips([]string{"SKIP_COOLDOWN", "SKIP_COOLDOWN", "SKIP_PRICE_SANITY"})
	after := testutil.ToFloat64(ExecSkipsTotal.WithLabelValues("SKIP_COOLDOWN"))
	assert.Equal(t, before+2, after)
}

func TestSetRunningTogglesGauge(t *testing.T) {
	SetRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(Running))
	SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(Running))
}
