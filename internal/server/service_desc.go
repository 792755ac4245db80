// ============================================================================
// Knock-Server gRPC 服務描述
// ============================================================================
//
// 手寫的 grpc.ServiceDesc，訊息一律使用 google.protobuf.Struct，
// 因此不需要 protoc 產生程式碼，預設的 proto codec 即可序列化。
//
// 方法對應:
//   SubmitJob        {target}            → {status, job_id}
//   GetJobStatus     {job_id}            → {status, worker?}
//   Poll             {worker_id}         → {command, job_id?}
//   ReportCompletion {job_id, worker_id} → {status: "ok"}
//   RegistrySnapshot {}                  → {devices: [...]}
//
// ============================================================================

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "knock.v1.Dispatch"

const (
	SubmitJobFullMethod        = "/" + ServiceName + "/SubmitJob"
	GetJobStatusFullMethod     = "/" + ServiceName + "/GetJobStatus"
	PollFullMethod             = "/" + ServiceName + "/Poll"
	ReportCompletionFullMethod = "/" + ServiceName + "/ReportCompletion"
	RegistrySnapshotFullMethod = "/" + ServiceName + "/RegistrySnapshot"
)

// DispatchServer is the server API for the knock.v1.Dispatch service.
type DispatchServer interface {
	SubmitJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJobStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Poll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportCompletion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegistrySnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DispatchServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DispatchServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DispatchServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DispatchServiceDesc is the grpc.ServiceDesc for knock.v1.Dispatch.
var DispatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitJob", Handler: unaryHandler(SubmitJobFullMethod, DispatchServer.SubmitJob)},
		{MethodName: "GetJobStatus", Handler: unaryHandler(GetJobStatusFullMethod, DispatchServer.GetJobStatus)},
		{MethodName: "Poll", Handler: unaryHandler(PollFullMethod, DispatchServer.Poll)},
		{MethodName: "ReportCompletion", Handler: unaryHandler(ReportCompletionFullMethod, DispatchServer.ReportCompletion)},
		{MethodName: "RegistrySnapshot", Handler: unaryHandler(RegistrySnapshotFullMethod, DispatchServer.RegistrySnapshot)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "knock/v1/dispatch.proto",
}

// RegisterDispatchServer registers srv on s.
func RegisterDispatchServer(s grpc.ServiceRegistrar, srv DispatchServer) {
	s.RegisterService(&DispatchServiceDesc, srv)
}
