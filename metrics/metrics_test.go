package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndObserve(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.ObserveSent(10)
	m.ObserveSent(5)
	m.ObserveReceived(7)
	m.SetInflight(3)
	m.ObservePing()
	m.ObservePong()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PacketsSent))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.BytesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.BytesReceived))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Inflight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PingsSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PongsReceived))
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSent(1)
	m.ObserveReceived(1)
	m.SetInflight(1)
	m.ObservePing()
	m.ObservePong()
}
