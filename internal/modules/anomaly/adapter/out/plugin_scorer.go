package out

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	pluginrpc "sosguard/internal/modules/anomaly/adapter/out/rpc"
	"sosguard/internal/modules/anomaly/domain"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultCallTimeout  = 500 * time.Millisecond
)

var ErrChecksumMismatch = errors.New("scorer plugin checksum mismatch")

// PluginScorer delegates scoring to an out-of-process plugin. The plugin is
// started on first use and kept running until Close.
type PluginScorer struct {
	binary string
	sha256 string

	mu         sync.Mutex
	client     *plugin.Client
	rpc        pluginrpc.ScorerClient
	windowSize int
}

func NewPluginScorer(binary, sha256Hex string) *PluginScorer {
	return &PluginScorer{binary: binary, sha256: strings.ToLower(strings.TrimSpace(sha256Hex))}
}

func (s *PluginScorer) Score(ctx context.Context, window []domain.MotionSample) (float64, error) {
	client, size, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	if size > 0 && len(window) > size {
		window = window[len(window)-size:]
	}
	req := &pluginrpc.ScoreRequest{Samples: make([]pluginrpc.Sample, 0, len(window))}
	for _, sample := range window {
		req.Samples = append(req.Samples, pluginrpc.Sample{
			UnixNano: sample.At.UnixNano(),
			AccelX:   sample.AccelX,
			AccelY:   sample.AccelY,
			AccelZ:   sample.AccelZ,
			GyroX:    sample.GyroX,
			GyroY:    sample.GyroY,
			GyroZ:    sample.GyroZ,
		})
	}
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := client.Score(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("scorer plugin timed out after %s", defaultCallTimeout)
		}
		s.reset()
		return 0, fmt.Errorf("score: %w", err)
	}
	return resp.Score, nil
}

// Metadata starts the plugin if needed and reports what it announced.
func (s *PluginScorer) Metadata(ctx context.Context) (pluginrpc.Metadata, error) {
	client, _, err := s.connect(ctx)
	if err != nil {
		return pluginrpc.Metadata{}, err
	}
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	meta, err := client.GetMetadata(callCtx)
	if err != nil {
		return pluginrpc.Metadata{}, fmt.Errorf("get metadata: %w", err)
	}
	return *meta, nil
}

func (s *PluginScorer) Close() error {
	s.reset()
	return nil
}

func (s *PluginScorer) connect(ctx context.Context) (pluginrpc.ScorerClient, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rpc != nil && s.client != nil && !s.client.Exited() {
		return s.rpc, s.windowSize, nil
	}
	if err := checksumMatches(s.binary, s.sha256); err != nil {
		return nil, 0, err
	}
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  pluginrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          pluginrpc.PluginMap(nil),
		Cmd:              exec.Command(s.binary),
		Managed:          true,
		StartTimeout:     defaultStartTimeout,
		Logger:           hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.NoLevel}),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, 0, fmt.Errorf("start scorer plugin: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginrpc.PluginMapKey)
	if err != nil {
		client.Kill()
		return nil, 0, fmt.Errorf("dispense scorer plugin: %w", err)
	}
	typed, ok := raw.(pluginrpc.ScorerClient)
	if !ok {
		client.Kill()
		return nil, 0, fmt.Errorf("scorer plugin rpc client type mismatch")
	}
	callCtx, cancel := callContext(ctx, defaultStartTimeout)
	defer cancel()
	meta, err := typed.GetMetadata(callCtx)
	if err != nil {
		client.Kill()
		return nil, 0, fmt.Errorf("get scorer metadata: %w", err)
	}
	s.client = client
	s.rpc = typed
	s.windowSize = int(meta.WindowSize)
	return typed, s.windowSize, nil
}

func (s *PluginScorer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Kill()
	}
	s.client = nil
	s.rpc = nil
}

// checksumMatches verifies the plugin binary when a checksum is configured.
func checksumMatches(path, expected string) error {
	if expected == "" {
		return nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scorer plugin: %w", err)
	}
	hash := sha256.Sum256(payload)
	if hex.EncodeToString(hash[:]) != expected {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, filepath.Base(path))
	}
	return nil
}

func callContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
