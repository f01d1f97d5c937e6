package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/services"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/godispatch/offload/pkg/dispatch"
	"github.com/godispatch/offload/pkg/runner"
	"github.com/godispatch/offload/pkg/unit"
)

func testAPIConfig(poolSize int) dispatch.Config {
	var cfg dispatch.Config
	flagext.DefaultValues(&cfg)
	cfg.PoolSize = poolSize
	return cfg
}

func newTestServer(t *testing.T, cfg dispatch.Config) *httptest.Server {
	t.Helper()

	logger := log.NewNopLogger()

	runners := runner.Default()
	runners.Register(dispatch.KindProcessBatch, runner.NewBatch(builtinTransforms()))
	runners.Register("sleep", unit.RunnerFunc(func(ctx context.Context, _ dispatch.Envelope, _ func(any)) (any, error) {
		select {
		case <-time.After(time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	d, err := dispatch.New(cfg, unit.Factory(runners, logger), logger, nil)
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), d))
	t.Cleanup(func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), d))
	})

	router := mux.NewRouter()
	srv := &server{dispatcher: d, logger: logger}
	srv.register(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func postTask(t *testing.T, ts *httptest.Server, path string, body []byte) (int, taskResponse) {
	t.Helper()

	res, err := http.Post(ts.URL+path, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()

	var resp taskResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return res.StatusCode, resp
}

func TestAPIDecompress(t *testing.T) {
	ts := newTestServer(t, testAPIConfig(2))

	payload := []byte("offloaded work arrives compressed")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	code, resp := postTask(t, ts, "/api/v1/tasks/decompress?encoding=gzip", buf.Bytes())
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.TaskID)

	encoded, ok := resp.Result.(string)
	require.True(t, ok, "expected base64 result, got %T", resp.Result)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestAPIBatchTransform(t *testing.T) {
	ts := newTestServer(t, testAPIConfig(2))

	code, resp := postTask(t, ts, "/api/v1/tasks/process_batch?transform=upper", []byte(`["hello","world"]`))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"HELLO", "WORLD"}, resp.Result)
}

func TestAPILayout(t *testing.T) {
	ts := newTestServer(t, testAPIConfig(2))

	body := []byte(`{"max_width":100,"spacing":0,"items":[{"width":30,"height":10},{"width":30,"height":10}]}`)
	code, resp := postTask(t, ts, "/api/v1/tasks/compute_layout", body)
	require.Equal(t, http.StatusOK, code)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok, "expected object result, got %T", resp.Result)
	require.Equal(t, float64(60), result["width"])
	require.Equal(t, float64(10), result["height"])
}

func TestAPIUnknownKind(t *testing.T) {
	ts := newTestServer(t, testAPIConfig(1))

	code, resp := postTask(t, ts, "/api/v1/tasks/frobnicate", []byte("x"))
	require.Equal(t, http.StatusBadGateway, code)
	require.Contains(t, resp.Error, "no runner registered")
}

func TestAPITimeout(t *testing.T) {
	cfg := testAPIConfig(1)
	cfg.TaskTimeout = 200 * time.Millisecond
	ts := newTestServer(t, cfg)

	code, resp := postTask(t, ts, "/api/v1/tasks/sleep", nil)
	require.Equal(t, http.StatusGatewayTimeout, code)
	require.Contains(t, resp.Error, "timed out")
}

func TestAPIStatus(t *testing.T) {
	ts := newTestServer(t, testAPIConfig(3))

	res, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status dispatch.Status
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	require.Equal(t, 3, status.TotalUnits)
	require.Equal(t, 3, status.IdleUnits)
	require.Equal(t, 0, status.QueuedTasks)
}
