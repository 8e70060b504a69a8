package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sluice/internal/config"
	"sluice/internal/telemetry"
	"sluice/internal/transport"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	write("schema.yml", `fields:
  - {name: customerID, type: string, required: true}
  - {name: tenure, type: integer}
key_field: customerID
`)
	write("in.csv", "customerID,tenure\nA,1\nB,2\nC,3\n")
	path := write("sluice.yml", `source: {path: `+filepath.Join(dir, "in.csv")+`}
schema: {file: schema.yml}
broker: {driver: stdout, topic: churn}
publisher: {lanes: 1, batch_size: 2, linger: 1ms, shutdown_timeout: 1s}
checkpoint: {store: file, path: `+filepath.Join(dir, "cp.json")+`}
telemetry: {http_addr: "127.0.0.1:0", grpc_addr: "127.0.0.1:0"}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestEngine_RunServesHealthAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	e, err := Bootstrap(ctx, testConfig(t))
	require.NoError(t, err)
	defer e.Close(ctx)
	require.NotEmpty(t, e.RunID())

	rep, err := e.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rep.Delivered)
	assert.Equal(t, int64(2), rep.Checkpoint)

	cli, err := transport.Dial(e.transport.Addr())
	require.NoError(t, err)
	defer cli.Close()
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := cli.Check(cctx, transport.Service)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	resp, err := http.Get("http://" + e.metrics.Addr() + "/checkpoint")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status telemetry.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "done", status.State)
	assert.Equal(t, int64(2), status.Checkpoint)
	assert.Equal(t, "churn|field:customerID", status.Key)
}

func TestBootstrap_BadSchema(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schema.File = filepath.Join(t.TempDir(), "missing.yml")
	_, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
}
