package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer(t *testing.T) {
	m, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)

	m.IncSignature("ethereum")
	m.IncSignature("ethereum")
	m.IncShardSubmission("accepted")
	m.IncReshare()
	m.SetUnlocked(true)
	m.ObserveRequest("/api/v1/status", http.StatusOK, 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signatures.WithLabelValues("ethereum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardsIn.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reshares))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/status", "200")))

	// Codes without a standard reason phrase keep their own label.
	m.ObserveRequest("/api/v1/sign", 499, time.Millisecond)
	m.ObserveRequest("/api/v1/sign", http.StatusBadRequest, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/sign", "499")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/sign", "400")))

	m.SetUnlocked(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.unlocked))

	n, err := testutil.GatherAndCount(m.Registry(), "test_engine_signatures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
