package server

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// Client is a typed client for knock.v1.Dispatch.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens an insecure, traced connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitJob queues a knock and returns its id.
func (c *Client) SubmitJob(ctx context.Context, target string) (types.JobID, error) {
	out, err := c.invoke(ctx, SubmitJobFullMethod, map[string]any{"target": target})
	if err != nil {
		return "", fmt.Errorf("rpc submit failed: %w", err)
	}
	return types.JobID(stringField(out, "job_id")), nil
}

// GetJobStatus fetches a job's status.
func (c *Client) GetJobStatus(ctx context.Context, id types.JobID) (types.JobStatus, error) {
	out, err := c.invoke(ctx, GetJobStatusFullMethod, map[string]any{"job_id": string(id)})
	if err != nil {
		return types.JobStatus{}, fmt.Errorf("rpc status failed: %w", err)
	}
	st := types.JobStatus{State: stringField(out, "status")}
	if w := stringField(out, "worker"); w != "" {
		st.Worker = &w
	}
	return st, nil
}

// Poll asks for work on behalf of workerID.
func (c *Client) Poll(ctx context.Context, workerID string) (types.PollResponse, error) {
	out, err := c.invoke(ctx, PollFullMethod, map[string]any{"worker_id": workerID})
	if err != nil {
		return types.PollResponse{}, fmt.Errorf("rpc poll failed: %w", err)
	}
	return types.PollResponse{
		Command: types.Command(stringField(out, "command")),
		JobID:   types.JobID(stringField(out, "job_id")),
	}, nil
}

// ReportCompletion confirms that workerID performed job id.
func (c *Client) ReportCompletion(ctx context.Context, id types.JobID, workerID string) error {
	if _, err := c.invoke(ctx, ReportCompletionFullMethod, map[string]any{
		"job_id":    string(id),
		"worker_id": workerID,
	}); err != nil {
		return fmt.Errorf("rpc confirm failed: %w", err)
	}
	return nil
}

// RegistrySnapshot lists the devices known to the coordinator.
func (c *Client) RegistrySnapshot(ctx context.Context) ([]types.WorkerSnapshot, error) {
	out, err := c.invoke(ctx, RegistrySnapshotFullMethod, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("rpc snapshot failed: %w", err)
	}

	list := out.GetFields()["devices"].GetListValue().GetValues()
	snapshot := make([]types.WorkerSnapshot, 0, len(list))
	for _, v := range list {
		dev := v.GetStructValue()
		fields := dev.GetFields()
		seen, _ := time.Parse(time.RFC3339Nano, stringField(dev, "last_seen"))
		snapshot = append(snapshot, types.WorkerSnapshot{
			ID:             stringField(dev, "id"),
			LastHeartbeat:  seen,
			SecondsAgo:     int64(fields["seconds_ago"].GetNumberValue()),
			Online:         fields["is_online"].GetBoolValue(),
			CompletedCount: int(fields["knocks"].GetNumberValue()),
		})
	}
	return snapshot, nil
}
