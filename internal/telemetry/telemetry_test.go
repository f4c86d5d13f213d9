// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNew_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestCounters_IncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LoopIterations.Inc()
	m.LoopIterations.Inc()
	m.MeasurementsSent.Inc()

	assert.Equal(t, float64(2), counterValue(t, m.LoopIterations))
	assert.Equal(t, float64(1), counterValue(t, m.MeasurementsSent))
	assert.Equal(t, float64(0), counterValue(t, m.AuthFailures))
}

func TestFreeHeapGauge_Settable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FreeHeapBytes.Set(32768)
	assert.Equal(t, float64(32768), gaugeValue(t, m.FreeHeapBytes))
}
