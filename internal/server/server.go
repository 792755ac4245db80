package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/knock-server/internal/dispatch"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// Dispatcher is the coordinator surface exposed over gRPC.
type Dispatcher interface {
	SubmitJob(ctx context.Context, target string) types.JobID
	GetJobStatus(ctx context.Context, id types.JobID) (types.JobStatus, types.ResultCode)
	Poll(ctx context.Context, workerID string) (types.PollResponse, error)
	ReportCompletion(ctx context.Context, id types.JobID, workerID string)
	RegistrySnapshot(ctx context.Context) []types.WorkerSnapshot
}

// Server implements DispatchServer on top of the dispatcher.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

var _ DispatchServer = (*Server)(nil)

// NewServer creates a new gRPC service instance.
func NewServer(d Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: d,
		logger:     logger.With("component", "grpc"),
	}
}

// NewGRPCServer builds a grpc.Server with tracing and request logging, and registers s on it.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.logUnary),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterDispatchServer(gs, s)
	return gs
}

// Serve blocks serving on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := s.NewGRPCServer()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.DebugContext(ctx, "RPC handled",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}

// SubmitJob queues a knock; an empty target means any device.
func (s *Server) SubmitJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := s.dispatcher.SubmitJob(ctx, stringField(req, "target"))
	return structpb.NewStruct(map[string]any{
		"status": "queued",
		"job_id": string(id),
	})
}

// GetJobStatus reports a job's state; unknown ids answer {status: "unknown"}.
func (s *Server) GetJobStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	st, code := s.dispatcher.GetJobStatus(ctx, types.JobID(stringField(req, "job_id")))
	out := map[string]any{"status": st.State}
	if code == types.ResultOK && st.Worker != nil {
		out["worker"] = *st.Worker
	}
	return structpb.NewStruct(out)
}

// Poll heartbeats the device and returns KNOCK or SLEEP.
func (s *Server) Poll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.dispatcher.Poll(ctx, stringField(req, "worker_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{"command": string(resp.Command)}
	if resp.JobID != "" {
		out["job_id"] = string(resp.JobID)
	}
	return structpb.NewStruct(out)
}

// ReportCompletion always acknowledges.
func (s *Server) ReportCompletion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.dispatcher.ReportCompletion(ctx, types.JobID(stringField(req, "job_id")), stringField(req, "worker_id"))
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

// RegistrySnapshot lists every device seen so far.
func (s *Server) RegistrySnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snapshot := s.dispatcher.RegistrySnapshot(ctx)
	devices := make([]any, 0, len(snapshot))
	for _, w := range snapshot {
		devices = append(devices, map[string]any{
			"id":          w.ID,
			"last_seen":   w.LastHeartbeat.UTC().Format(time.RFC3339Nano),
			"seconds_ago": w.SecondsAgo,
			"is_online":   w.Online,
			"knocks":      w.CompletedCount,
		})
	}
	return structpb.NewStruct(map[string]any{"devices": devices})
}

// Helpers

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func toStatus(err error) error {
	switch dispatch.Classify(err) {
	case types.ResultInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case types.ResultNotFound:
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
