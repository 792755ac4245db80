package agent

// ============================================================================
// Agent Test File
// Purpose: Verify device loop, pool lifecycle, HTTP and gRPC sources
// ============================================================================

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	httpapi "github.com/ChuLiYu/knock-server/internal/api/http"
	"github.com/ChuLiYu/knock-server/internal/dispatch"
	"github.com/ChuLiYu/knock-server/internal/jobqueue"
	"github.com/ChuLiYu/knock-server/internal/registry"
	"github.com/ChuLiYu/knock-server/internal/server"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// ============================================================================
// Test helpers
// ============================================================================

// localSource drives a Dispatcher in-process
type localSource struct {
	d *dispatch.Dispatcher
}

func (s localSource) Poll(ctx context.Context, id string) (types.PollResponse, error) {
	return s.d.Poll(ctx, id)
}

func (s localSource) Confirm(ctx context.Context, jobID types.JobID, id string) error {
	s.d.ReportCompletion(ctx, jobID, id)
	return nil
}

// scriptedSource returns queued responses, then SLEEP
type scriptedSource struct {
	mu        sync.Mutex
	responses []types.PollResponse
	pollErr   error
	confirmed []types.JobID
	polledBy  []string
}

func (s *scriptedSource) Poll(_ context.Context, id string) (types.PollResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polledBy = append(s.polledBy, id)
	if s.pollErr != nil {
		return types.PollResponse{}, s.pollErr
	}
	if len(s.responses) == 0 {
		return types.PollResponse{Command: types.CommandSleep}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedSource) Confirm(_ context.Context, jobID types.JobID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, jobID)
	return nil
}

func (s *scriptedSource) confirmedJobs() []types.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.JobID(nil), s.confirmed...)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, KnockDuration: time.Millisecond}
}

func newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(registry.New(registry.DefaultLivenessThreshold), jobqueue.New())
}

func waitCompleted(t *testing.T, d *dispatch.Dispatcher, id types.JobID) types.JobStatus {
	t.Helper()
	var st types.JobStatus
	require.Eventually(t, func() bool {
		st, _ = d.GetJobStatus(context.Background(), id)
		return st.State == string(types.StateCompleted)
	}, 3*time.Second, 10*time.Millisecond)
	return st
}

// ============================================================================
// Device tests
// ============================================================================

func TestDeviceKnocksAndConfirms(t *testing.T) {
	src := &scriptedSource{responses: []types.PollResponse{
		{Command: types.CommandKnock, JobID: "j1"},
	}}

	var knocked []types.JobID
	cfg := fastConfig()
	cfg.OnKnock = func(_ string, id types.JobID) { knocked = append(knocked, id) }
	dev := newDevice("dev-1", src, cfg, newTestLogger())

	dev.step(context.Background())

	assert.Equal(t, []types.JobID{"j1"}, src.confirmedJobs())
	assert.Equal(t, []types.JobID{"j1"}, knocked)
	assert.Equal(t, DeviceStats{Polls: 1, Knocks: 1}, dev.Stats())
}

func TestDeviceSleepDoesNotConfirm(t *testing.T) {
	src := &scriptedSource{}
	dev := newDevice("dev-1", src, fastConfig(), newTestLogger())

	dev.step(context.Background())

	assert.Empty(t, src.confirmedJobs())
	assert.Equal(t, DeviceStats{Polls: 1}, dev.Stats())
}

func TestDevicePollErrorCounted(t *testing.T) {
	src := &scriptedSource{pollErr: errors.New("connection refused")}
	dev := newDevice("dev-1", src, fastConfig(), newTestLogger())

	dev.step(context.Background())

	assert.Equal(t, int64(1), dev.Stats().Errors)
}

func TestDeviceCancelledDuringKnock(t *testing.T) {
	src := &scriptedSource{responses: []types.PollResponse{
		{Command: types.CommandKnock, JobID: "j1"},
	}}
	cfg := fastConfig()
	cfg.KnockDuration = time.Hour
	dev := newDevice("dev-1", src, cfg, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev.step(ctx)

	assert.Empty(t, src.confirmedJobs(), "a cancelled knock is never confirmed")
}

func TestDeviceID(t *testing.T) {
	assert.Equal(t, "02:4B:4E:00:00:01", DeviceID("", 0))
	assert.Equal(t, "02:4B:4E:00:01:00", DeviceID("", 255))
	assert.Equal(t, "sim-03", DeviceID("sim", 2))
}

// ============================================================================
// Pool tests
// ============================================================================

func TestPoolLifecycle(t *testing.T) {
	pool := NewPool(fastConfig())
	assert.False(t, pool.IsStarted())

	src := &scriptedSource{}
	require.NoError(t, pool.Start(context.Background(), 3, src))
	assert.True(t, pool.IsStarted())
	assert.Equal(t, 3, pool.DeviceCount())

	assert.ErrorIs(t, pool.Start(context.Background(), 1, src), ErrPoolStarted)

	pool.Stop()
	pool.Stop() // idempotent
}

func TestPoolRequiresSource(t *testing.T) {
	assert.ErrorIs(t, NewPool(fastConfig()).Start(context.Background(), 1, nil), ErrNoSource)
}

func TestPoolDrainsQueue(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()

	ids := make([]types.JobID, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, d.SubmitJob(ctx, ""))
	}

	pool := NewPool(fastConfig())
	require.NoError(t, pool.Start(ctx, 3, localSource{d: d}))
	defer pool.Stop()

	for _, id := range ids {
		waitCompleted(t, d, id)
	}

	snapshot := d.RegistrySnapshot(ctx)
	require.Len(t, snapshot, 3)
	total := 0
	for _, w := range snapshot {
		total += w.CompletedCount
	}
	assert.Equal(t, 5, total, "each job is performed exactly once")
}

func TestPoolTargetedJob(t *testing.T) {
	d := newDispatcher()
	ctx := context.Background()

	target := DeviceID("", 1)
	id := d.SubmitJob(ctx, target)

	pool := NewPool(fastConfig())
	require.NoError(t, pool.Start(ctx, 3, localSource{d: d}))
	defer pool.Stop()

	st := waitCompleted(t, d, id)
	require.NotNil(t, st.Worker)
	assert.Equal(t, target, *st.Worker)
}

// ============================================================================
// Transport tests
// ============================================================================

func TestHTTPSourceEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := newDispatcher()
	ts := httptest.NewServer(httpapi.NewHandler(d, nil, nil, nil).NewRouter())
	defer ts.Close()

	id := d.SubmitJob(context.Background(), "")

	pool := NewPool(fastConfig())
	require.NoError(t, pool.Start(context.Background(), 2, NewHTTPSource(ts.URL+"/", nil)))
	defer pool.Stop()

	waitCompleted(t, d, id)
}

func TestHTTPSourceBadStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(httpapi.NewHandler(newDispatcher(), nil, nil, nil).NewRouter())
	defer ts.Close()

	_, err := NewHTTPSource(ts.URL, nil).Poll(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestGrpcSourceEndToEnd(t *testing.T) {
	d := newDispatcher()

	lis := bufconn.Listen(1024 * 1024)
	gs := server.NewServer(d, nil).NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	id := d.SubmitJob(context.Background(), "")

	pool := NewPool(fastConfig())
	require.NoError(t, pool.Start(context.Background(), 2, NewGrpcSource(server.NewClient(conn))))
	defer pool.Stop()

	waitCompleted(t, d, id)
}
