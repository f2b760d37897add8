package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// --- Mock implementations ---

type mockPinger struct {
	err   atomic.Pointer[error]
	calls atomic.Int32
}

func (m *mockPinger) Ping(context.Context) error {
	m.calls.Add(1)
	if p := m.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *mockPinger) fail(err error) { m.err.Store(&err) }

// --- Helpers ---

func get(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

// --- Tests ---

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(100000))

	w := get(h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLiveEndpoint_Threshold(t *testing.T) {
	h := New()
	p := &mockPinger{}
	p.fail(errors.New("connection refused"))
	h.AddLivenessCheck("db", time.Second, PingCheck(p))

	runN(h.liveness[0], failureThreshold-1)
	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint, "/livez").Code)

	runN(h.liveness[0], 1)
	w := get(h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestCheckRecovery(t *testing.T) {
	h := New()
	p := &mockPinger{}
	p.fail(errors.New("down"))
	h.AddReadinessCheck("redis", time.Second, PingCheck(p))
	h.SetReady(true)

	runN(h.readiness[0], failureThreshold)
	assert.False(t, h.IsReady())

	p.err.Store(nil)
	runN(h.readiness[0], successThreshold)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(&mockPinger{}))

	w := get(h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get(h.ReadyEndpoint, "/readyz").Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.ReadyEndpoint, "/readyz").Code)
}

func TestReadyEndpoint_OneFailing(t *testing.T) {
	h := New()
	bad := &mockPinger{}
	bad.fail(errors.New("timeout"))
	h.AddReadinessCheck("postgres", time.Second, PingCheck(&mockPinger{}))
	h.AddReadinessCheck("redis", time.Second, PingCheck(bad))
	h.SetReady(true)

	runN(h.readiness[1], failureThreshold)

	w := get(h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"timeout"}}`, w.Body.String())
}

func TestCheckTimeout(t *testing.T) {
	c := newCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runN(c, failureThreshold)
	assert.Equal(t, context.DeadlineExceeded.Error(), c.failure())
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New()
	p := &mockPinger{}
	h.AddReadinessCheck("postgres", time.Second, PingCheck(p))
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(100000))
	h.Start(context.Background(), 5*time.Millisecond)

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()

	n := p.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, p.calls.Load())
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
