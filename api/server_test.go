package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/finsync/api"
	"github.com/Aidin1998/finsync/internal/cache"
	"github.com/Aidin1998/finsync/internal/degrade"
	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/syncbus"
)

type stubScheduler struct {
	mu     sync.Mutex
	mc     int
	rps    int
	paused bool
}

func (s *stubScheduler) Stats() scheduler.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scheduler.Stats{MaxConcurrent: s.mc, RequestsPerSecond: s.rps, Paused: s.paused}
}

func (s *stubScheduler) Limits() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mc, s.rps
}

func clamp(n, lo, hi int) int {
	return min(max(n, lo), hi)
}

func (s *stubScheduler) SetMaxConcurrent(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mc = clamp(n, 1, 10)
	return s.mc
}

func (s *stubScheduler) SetRequestsPerSecond(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rps = clamp(n, 1, 100)
	return s.rps
}

func (s *stubScheduler) Pause()  { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *stubScheduler) Resume() { s.mu.Lock(); s.paused = false; s.mu.Unlock() }

type stubSync struct {
	mu        sync.Mutex
	events    []syncbus.SyncEvent
	fullSyncs int
	fullErr   error
}

func (s *stubSync) Publish(evt syncbus.SyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *stubSync) ForceFullSync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullSyncs++
	return s.fullErr
}

func (s *stubSync) QueueStats() syncbus.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return syncbus.QueueStats{QueueLength: len(s.events)}
}

type stubDegrade struct{}

func (stubDegrade) Status() degrade.Status {
	return degrade.Status{State: degrade.StateOpen.String(), ConsecutiveFailures: 5}
}

type stubCache struct{}

func (stubCache) Status() []cache.GroupStatus {
	return []cache.GroupStatus{
		{Group: "accounts", Stale: true, TTL: time.Minute},
		{Group: "dashboard", TTL: time.Minute},
	}
}

type stubLevels struct{}

func (stubLevels) Stats() cache.ManagerStats {
	return cache.ManagerStats{Hits: map[string]int64{"l1": 4, "l2": 1}, Misses: 2}
}

type stubFocus bool

func (f stubFocus) Focused() bool { return bool(f) }

const secret = "test-secret"

func setupServer(t *testing.T, jwtSecret string) (*gin.Engine, *stubScheduler, *stubSync) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sched := &stubScheduler{mc: 3, rps: 10}
	bus := &stubSync{}
	srv, err := api.NewServer(zaptest.NewLogger(t), api.Config{JWTSecret: jwtSecret}, api.Dependencies{
		Scheduler: sched,
		Sync:      bus,
		Degrade:   stubDegrade{},
		Cache:     stubCache{},
		Levels:    stubLevels{},
		Focus:     stubFocus(true),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
	require.NoError(t, err)
	return srv.Router(), sched, bus
}

func do(t *testing.T, router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := api.NewServer(nil, api.Config{}, api.Dependencies{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["paused"])
	assert.Equal(t, true, resp["focused"])
}

func TestMetricsRoute(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	router, _, _ := setupServer(t, secret)

	w := do(t, router, http.MethodPost, "/v1/scheduler/pause", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	w = do(t, router, http.MethodPost, "/v1/scheduler/pause", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := api.IssueToken("another-secret", "ops", time.Minute)
	require.NoError(t, err)
	w = do(t, router, http.MethodPost, "/v1/scheduler/pause", nil, other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := api.IssueToken(secret, "ops", -time.Minute)
	require.NoError(t, err)
	w = do(t, router, http.MethodPost, "/v1/scheduler/pause", nil, expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// reads stay open
	w = do(t, router, http.MethodGet, "/v1/scheduler/stats", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPauseResume(t *testing.T) {
	router, sched, _ := setupServer(t, secret)
	token, err := api.IssueToken(secret, "ops", time.Minute)
	require.NoError(t, err)

	w := do(t, router, http.MethodPost, "/v1/scheduler/pause", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sched.Stats().Paused)

	w = do(t, router, http.MethodPost, "/v1/scheduler/resume", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sched.Stats().Paused)
}

func TestUpdateLimitsClamps(t *testing.T) {
	router, _, _ := setupServer(t, "")

	w := do(t, router, http.MethodPut, "/v1/scheduler/limits", map[string]int{
		"max_concurrent":      50,
		"requests_per_second": 0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got api.LimitsResponse
	decodeData(t, w, &got)
	assert.Equal(t, api.LimitsResponse{MaxConcurrent: 10, RequestsPerSecond: 1}, got)

	w = do(t, router, http.MethodPut, "/v1/scheduler/limits", map[string]int{"max_concurrent": 4}, "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &got)
	assert.Equal(t, api.LimitsResponse{MaxConcurrent: 4, RequestsPerSecond: 1}, got)
}

func TestUpdateLimitsRejectsEmptyBody(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodPut, "/v1/scheduler/limits", map[string]int{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "/v1/scheduler/limits", problem["instance"])
	assert.Len(t, problem["errors"], 1)
}

func TestPublishEvent(t *testing.T) {
	router, _, bus := setupServer(t, "")

	w := do(t, router, http.MethodPost, "/v1/sync/events", syncbus.SyncEvent{
		Type:     syncbus.EntityTransaction,
		Action:   syncbus.ActionCreate,
		EntityID: "tx-1",
	}, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var got map[string]string
	decodeData(t, w, &got)
	assert.NotEmpty(t, got["id"])

	require.Len(t, bus.events, 1)
	assert.Equal(t, got["id"], bus.events[0].ID)
	assert.Equal(t, "tx-1", bus.events[0].EntityID)

	w = do(t, router, http.MethodPost, "/v1/sync/events", map[string]string{"type": "transaction", "action": "archive"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, bus.events, 1)
}

func TestFullSync(t *testing.T) {
	router, _, bus := setupServer(t, "")

	w := do(t, router, http.MethodPost, "/v1/sync/full", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, bus.fullSyncs)

	bus.fullErr = syncbus.ErrClosed
	w = do(t, router, http.MethodPost, "/v1/sync/full", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	bus.fullErr = errors.New("refetch dashboard: boom")
	w = do(t, router, http.MethodPost, "/v1/sync/full", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDegradeStatusRoute(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodGet, "/v1/degrade", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got degrade.Status
	decodeData(t, w, &got)
	assert.Equal(t, "open", got.State)
	assert.Equal(t, 5, got.ConsecutiveFailures)
}

func TestThrottleGuardsMutationsAfterAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var subjects []string
	throttle := func(c *gin.Context) {
		subjects = append(subjects, c.GetString("subject"))
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	srv, err := api.NewServer(zaptest.NewLogger(t), api.Config{JWTSecret: secret}, api.Dependencies{
		Scheduler: &stubScheduler{mc: 3, rps: 10},
		Sync:      &stubSync{},
		Throttle:  throttle,
	})
	require.NoError(t, err)
	router := srv.Router()

	w := do(t, router, http.MethodPost, "/v1/sync/full", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, subjects)

	token, err := api.IssueToken(secret, "ops", time.Minute)
	require.NoError(t, err)
	w = do(t, router, http.MethodPost, "/v1/sync/full", nil, token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"ops"}, subjects)

	w = do(t, router, http.MethodGet, "/v1/sync/stats", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCacheGroupRoutes(t *testing.T) {
	router, _, _ := setupServer(t, "")

	w := do(t, router, http.MethodGet, "/v1/cache/groups/accounts", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var group cache.GroupStatus
	decodeData(t, w, &group)
	assert.Equal(t, "accounts", group.Group)
	assert.True(t, group.Stale)

	w = do(t, router, http.MethodGet, "/v1/cache/groups/holidays", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "Not Found", problem["title"])
	assert.Equal(t, "/v1/cache/groups/holidays", problem["instance"])
	assert.Contains(t, problem["detail"], "holidays")
}

func TestCacheStatsRoute(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodGet, "/v1/cache/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats cache.ManagerStats
	decodeData(t, w, &stats)
	assert.Equal(t, int64(4), stats.Hits["l1"])
	assert.Equal(t, int64(2), stats.Misses)
}

func TestUnknownRouteIsProblem(t *testing.T) {
	router, _, _ := setupServer(t, "")
	w := do(t, router, http.MethodGet, "/v1/ledger", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "no route for GET /v1/ledger")
}
