package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey      = "scorer"
	serviceName       = "sosguard.scorer.v1.AnomalyScorer"
	jsonCodecName     = "json"
	methodGetMetadata = "/" + serviceName + "/GetMetadata"
	methodScore       = "/" + serviceName + "/Score"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SOSGUARD_SCORER_PLUGIN",
	MagicCookieValue: "sosguard",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// WindowSize is the number of samples the scorer wants per call; zero
	// means any.
	WindowSize int32 `json:"window_size"`
}

type Sample struct {
	UnixNano int64   `json:"unix_nano"`
	AccelX   float64 `json:"ax"`
	AccelY   float64 `json:"ay"`
	AccelZ   float64 `json:"az"`
	GyroX    float64 `json:"gx"`
	GyroY    float64 `json:"gy"`
	GyroZ    float64 `json:"gz"`
}

type ScoreRequest struct {
	Samples []Sample `json:"samples"`
}

type ScoreResponse struct {
	Score float64 `json:"score"`
}

type ScorerServer interface {
	GetMetadata(ctx context.Context, in *Empty) (*Metadata, error)
	Score(ctx context.Context, in *ScoreRequest) (*ScoreResponse, error)
}

type ScorerClient interface {
	GetMetadata(ctx context.Context) (*Metadata, error)
	Score(ctx context.Context, in *ScoreRequest) (*ScoreResponse, error)
}

type scorerClient struct {
	conn *grpc.ClientConn
}

func NewScorerClient(conn *grpc.ClientConn) ScorerClient {
	return &scorerClient{conn: conn}
}

func (c *scorerClient) GetMetadata(ctx context.Context) (*Metadata, error) {
	out := &Metadata{}
	if err := c.conn.Invoke(ctx, methodGetMetadata, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *scorerClient) Score(ctx context.Context, in *ScoreRequest) (*ScoreResponse, error) {
	out := &ScoreResponse{}
	if err := c.conn.Invoke(ctx, methodScore, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterScorerServer(server grpc.ServiceRegistrar, impl ScorerServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ScorerServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "GetMetadata",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &Empty{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.GetMetadata(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetMetadata}
					handler := func(ctx context.Context, req any) (any, error) {
						empty, ok := req.(*Empty)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.GetMetadata(ctx, empty)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
			{
				MethodName: "Score",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &ScoreRequest{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Score(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodScore}
					handler := func(ctx context.Context, req any) (any, error) {
						inReq, ok := req.(*ScoreRequest)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Score(ctx, inReq)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schemas/scorer-rpc-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl ScorerServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterScorerServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewScorerClient(conn), nil
}

func PluginMap(impl ScorerServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
