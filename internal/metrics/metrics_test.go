package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.Observe(ctx, "orders.HCT", true, 250*time.Millisecond)
	r.Observe(ctx, "orders.HCT", false, time.Second)
	r.Observe(ctx, "", true, time.Second)
	r.Orders("HCT", "delivery", 3)
	r.Orders("HCT", "delivery", 0)
	r.Retry("carrier.search")
	r.Retry("carrier.search")
	r.Finish(time.Unix(1700000000, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("orders.hct", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("orders.hct", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.orders.WithLabelValues("hct", "delivery")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("carrier.search")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastRun))
	assert.Equal(t, 1, testutil.CollectAndCount(r.durations))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Observe(context.Background(), "x", true, 0)
		r.Orders("p", "k", 1)
		r.Retry("x")
		r.Finish(time.Now())
	})
}

func TestNewPusherDisabledWithoutGateway(t *testing.T) {
	assert.Nil(t, NewPusher(config.Metrics{Job: "logistics"}, nil, nil))
}

func TestPushgatewayPusherSendsRegistry(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.Orders("AIRS", "delivery", 2)
	p := NewPusher(config.Metrics{PushgatewayURL: srv.URL, Job: "logistics"}, map[string]string{"run_id": "abc", "": "skip"}, nil)
	require.NotNil(t, p)
	require.NoError(t, p.Push(context.Background(), r.Registry()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/logistics/run_id/abc", path)
	assert.NotEmpty(t, body)
}

func TestPushgatewayPusherValidates(t *testing.T) {
	r := NewRecorder()
	err := NewPushgatewayPusher("", "job", nil).Push(context.Background(), r.Registry())
	assert.ErrorContains(t, err, "endpoint")
	err = NewPushgatewayPusher("http://localhost:9091", " ", nil).Push(context.Background(), r.Registry())
	assert.ErrorContains(t, err, "job")
	assert.NoError(t, NewPushgatewayPusher("http://x", "job", nil).Push(context.Background(), nil))
}

func TestPushgatewayPusherReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewPushgatewayPusher(srv.URL, "logistics", nil).Push(context.Background(), NewRecorder().Registry())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502") || strings.Contains(err.Error(), "unexpected status"))
}
