package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/knock-server/internal/dispatch"
	"github.com/ChuLiYu/knock-server/internal/jobqueue"
	"github.com/ChuLiYu/knock-server/internal/registry"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

const bufSize = 1024 * 1024

func newTestClient(t *testing.T, ids ...types.JobID) *Client {
	t.Helper()

	var opts []jobqueue.Option
	if len(ids) > 0 {
		i := 0
		opts = append(opts, jobqueue.WithIDGenerator(func() types.JobID {
			id := ids[i%len(ids)]
			i++
			return id
		}))
	}
	d := dispatch.New(registry.New(registry.DefaultLivenessThreshold), jobqueue.New(opts...))

	lis := bufconn.Listen(bufSize)
	gs := NewServer(d, nil).NewGRPCServer()
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGRPCEndToEnd(t *testing.T) {
	client := newTestClient(t, "abc123")
	ctx := testContext(t)

	id, err := client.SubmitJob(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, types.JobID("abc123"), id)

	st, err := client.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "queued", st.State)
	assert.Nil(t, st.Worker)

	resp, err := client.Poll(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, types.PollResponse{Command: types.CommandKnock, JobID: "abc123"}, resp)

	st, err = client.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "assigned", st.State)
	require.NotNil(t, st.Worker)
	assert.Equal(t, "AA:BB", *st.Worker)

	require.NoError(t, client.ReportCompletion(ctx, id, "AA:BB"))

	st, err = client.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.State)

	devices, err := client.RegistrySnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "AA:BB", devices[0].ID)
	assert.Equal(t, 1, devices[0].CompletedCount)
	assert.True(t, devices[0].Online)
	assert.False(t, devices[0].LastHeartbeat.IsZero())
}

func TestGRPCPollMissingWorker(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Poll(testContext(t), "")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCPollSleep(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.Poll(testContext(t), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, types.CommandSleep, resp.Command)
	assert.Empty(t, resp.JobID)
}

func TestGRPCUnknownJob(t *testing.T) {
	client := newTestClient(t)
	ctx := testContext(t)

	st, err := client.GetJobStatus(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnknown, st.State)
	assert.Nil(t, st.Worker)

	assert.NoError(t, client.ReportCompletion(ctx, "missing", "dev-1"), "completion of unknown jobs is acknowledged")
}

func TestGRPCTargetedJob(t *testing.T) {
	client := newTestClient(t, "t1")
	ctx := testContext(t)

	_, err := client.SubmitJob(ctx, "dev-2")
	require.NoError(t, err)

	resp, err := client.Poll(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, types.CommandSleep, resp.Command)

	resp, err = client.Poll(ctx, "dev-2")
	require.NoError(t, err)
	assert.Equal(t, types.JobID("t1"), resp.JobID)
}

func TestStringField(t *testing.T) {
	assert.Equal(t, "", stringField(nil, "x"))
}
