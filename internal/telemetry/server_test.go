package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Checkpoint(t *testing.T) {
	h := NewRouter(func() Status {
		return Status{State: "running", Key: "t|hash", Checkpoint: 41, LaneMarks: map[int]int64{0: 41}}
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkpoint", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(41), st.Checkpoint)
	assert.Equal(t, "t|hash", st.Key)
}

func TestRouter_HealthzFailed(t *testing.T) {
	h := NewRouter(func() Status { return Status{State: "failed"} })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExpose_ServesMetrics(t *testing.T) {
	RecordsRead.Add(3)
	s, err := Expose("127.0.0.1:0", func() Status { return Status{State: "running"} })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sluice_records_read_total")
	assert.GreaterOrEqual(t, testutil.ToFloat64(RecordsRead), 3.0)
}
