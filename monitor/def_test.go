package monitor

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	iface "SpoofDetServer/interface"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	return 0
}

func TestObserve(t *testing.T) {
	before := value(t, RequestsTotal.WithLabelValues("grpc", "DetectFaces", "InvalidFrame"))
	Observe("grpc", "DetectFaces", time.Now(), errors.Join(iface.ErrInvalidFrame))
	after := value(t, RequestsTotal.WithLabelValues("grpc", "DetectFaces", "InvalidFrame"))
	assert.Equal(t, before+1, after)
}

func TestHandler(t *testing.T) {
	ActiveEngines.Set(3)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "spoofdet_active_engines 3")
}

func TestProcStats(t *testing.T) {
	s, err := newProcStats()
	require.NoError(t, err)
	s.sample()
	assert.Greater(t, value(t, memUsage), 0.0)
}
