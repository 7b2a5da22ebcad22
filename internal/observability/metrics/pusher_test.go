package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRemoteWritePusher(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		payload, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry, Config{ServiceName: "loanportfolio", Environment: "test"})
	m.portfolioRows.Set(7)

	pusher := NewRemoteWritePusher(srv.URL, "loanportfolio", "secret")
	require.NoError(t, pusher.Push(context.Background(), registry))

	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))

	var found bool
	for _, ts := range got.Timeseries {
		labels := map[string]string{}
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		if labels["__name__"] == "loanportfolio_portfolio_rows" {
			found = true
			assert.Equal(t, "loanportfolio", labels["job"])
			assert.Equal(t, "test", labels["env"])
			require.Len(t, ts.Samples, 1)
			assert.Equal(t, 7.0, ts.Samples[0].Value)
		}
	}
	assert.True(t, found)
}

func TestRemoteWritePusherRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	NewPipelineMetrics(registry, Config{})

	err := NewRemoteWritePusher(srv.URL, "loanportfolio", "").Push(context.Background(), registry)
	assert.Error(t, err)
}

func TestPushgatewayPusher(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	NewPipelineMetrics(registry, Config{})

	pusher := NewPushgatewayPusher(srv.URL, "loanportfolio", map[string]string{"environment": "test"})
	require.NoError(t, pusher.Push(context.Background(), registry))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/loanportfolio/environment/test", path)
}

func TestNewPusher(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))

	cfg := config.Config{AppName: "loanportfolio", Metrics: config.MetricsConfig{Enabled: true, Exporter: ExporterPrometheusRemoteWrite}}
	assert.Nil(t, NewPusher(cfg, log), "endpoint is required")

	cfg.Metrics.Endpoint = "http://prometheus:9090/api/v1/write"
	assert.IsType(t, &RemoteWritePusher{}, NewPusher(cfg, log))

	cfg.Metrics.Exporter = ExporterPrometheusPushgateway
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(cfg, log))

	cfg.Metrics.Exporter = "statsd"
	assert.Nil(t, NewPusher(cfg, log))
}
