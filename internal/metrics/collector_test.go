package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_OnConnect(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	reg.MustRegister(c)

	c.OnConnect("vc-123", "10.0.0.1:9092", nil, 5*time.Millisecond)
	c.OnConnect("vc-123", "10.0.0.1:9092", nil, 5*time.Millisecond)
	c.OnDisconnect("vc-123", "10.0.0.1:9092")

	activeCount := testutil.ToFloat64(c.connectionsActive.WithLabelValues("vc-123"))
	assert.Equal(t, float64(1), activeCount)

	totalCount := testutil.ToFloat64(c.connectionsTotal.WithLabelValues("vc-123"))
	assert.Equal(t, float64(2), totalCount)
}

func TestCollector_OnConnectError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	reg.MustRegister(c)

	c.OnConnect("vc-123", "10.0.0.1:9092", errors.New("dial timeout"), 10*time.Millisecond)

	errCount := testutil.ToFloat64(c.connectErrors.WithLabelValues("vc-123"))
	assert.Equal(t, float64(1), errCount)
}

func TestCollector_OnWriteOnRead(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	reg.MustRegister(c)

	c.OnWrite("vc-123", 0, 1024, nil, time.Millisecond)
	c.OnRead("vc-123", 0, 2048, nil, time.Millisecond)

	bytesOut := testutil.ToFloat64(c.bytesTotal.WithLabelValues("vc-123", "egress"))
	assert.Equal(t, float64(1024), bytesOut)

	bytesIn := testutil.ToFloat64(c.bytesTotal.WithLabelValues("vc-123", "ingress"))
	assert.Equal(t, float64(2048), bytesIn)

	requests := testutil.ToFloat64(c.requestsTotal.WithLabelValues("vc-123", "0"))
	assert.Equal(t, float64(1), requests)
}
