package agent

import (
	"context"

	"github.com/ChuLiYu/knock-server/internal/server"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// GrpcSource is a JobSource backed by the knock.v1.Dispatch gRPC service.
type GrpcSource struct {
	client *server.Client
}

// NewGrpcSource wraps an established client.
func NewGrpcSource(client *server.Client) *GrpcSource {
	return &GrpcSource{client: client}
}

func (s *GrpcSource) Poll(ctx context.Context, deviceID string) (types.PollResponse, error) {
	return s.client.Poll(ctx, deviceID)
}

func (s *GrpcSource) Confirm(ctx context.Context, jobID types.JobID, deviceID string) error {
	return s.client.ReportCompletion(ctx, jobID, deviceID)
}
