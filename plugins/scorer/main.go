package main

import (
	"context"
	"math"

	pluginrpc "sosguard/internal/modules/anomaly/adapter/out/rpc"

	"github.com/hashicorp/go-plugin"
)

const (
	windowSize = 25
	// jerk, in g/s, that scores 1
	crashJerk = 60.0
)

type server struct{}

func (s *server) GetMetadata(_ context.Context, _ *pluginrpc.Empty) (*pluginrpc.Metadata, error) {
	return &pluginrpc.Metadata{Name: "jerk-scorer", Version: "1.0.0", WindowSize: windowSize}, nil
}

// Score rates the window by its peak jerk: the fastest change of
// acceleration magnitude between consecutive samples.
func (s *server) Score(_ context.Context, in *pluginrpc.ScoreRequest) (*pluginrpc.ScoreResponse, error) {
	peak := 0.0
	for i := 1; i < len(in.Samples); i++ {
		prev, cur := in.Samples[i-1], in.Samples[i]
		dt := float64(cur.UnixNano-prev.UnixNano) / 1e9
		if dt <= 0 {
			continue
		}
		jerk := math.Abs(magnitude(cur)-magnitude(prev)) / dt
		peak = math.Max(peak, jerk)
	}
	return &pluginrpc.ScoreResponse{Score: math.Min(peak/crashJerk, 1)}, nil
}

func magnitude(s pluginrpc.Sample) float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

func main() {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: pluginrpc.HandshakeConfig,
		Plugins:         pluginrpc.PluginMap(&server{}),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
