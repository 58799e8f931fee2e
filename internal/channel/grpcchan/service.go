// Package grpcchan 基于 gRPC 的执行端通道
//
// 控制面侧的 Server 实现 channel.Channel，执行端侧的 Client 实现 channel.Endpoint。
// 消息以 JSON 编码，服务描述手写，不依赖生成代码。
package grpcchan

import (
	"context"
	"encoding/json"

	"cluster-backend/internal/channel"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	serviceName      = "cluster.Executor"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	reportMethod     = "/" + serviceName + "/Report"
	codecContentType = "json"
)

// SubscribeRequest 执行端订阅请求
type SubscribeRequest struct {
	Destination string `json:"destination"`
	AgentID     string `json:"agent_id"`
}

// Ack 回报确认
type Ack struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecContentType }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// executorServer 服务端需要实现的方法
type executorServer interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
	Report(ctx context.Context, env *channel.Envelope) (*Ack, error)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(executorServer).Subscribe(req, stream)
}

func reportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(channel.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(executorServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: reportMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(executorServer).Report(ctx, req.(*channel.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*executorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Report", Handler: reportHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "executor.json",
}
