package out

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sosguard/internal/modules/anomaly/domain"
	anomalyout "sosguard/internal/modules/anomaly/port/out"
)

// FileSampleSource streams motion samples from a JSON-lines file, one
// sample per line. Undecodable lines are delivered as faults. With Pace set,
// delivery follows the gaps between sample timestamps.
type FileSampleSource struct {
	path  string
	pace  bool
	stdin io.Reader
}

func NewFileSampleSource(path string, pace bool) anomalyout.SampleSource {
	return &FileSampleSource{path: path, pace: pace, stdin: os.Stdin}
}

func (s *FileSampleSource) Stream(ctx context.Context) (<-chan domain.SampleEvent, error) {
	reader, closer, err := openInput(s.path, s.stdin)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.SampleEvent)
	go func() {
		defer close(out)
		defer closer()
		var prev time.Time
		ScanSamples(reader, func(sample domain.MotionSample, err error) bool {
			if err == nil && s.pace && !prev.IsZero() && sample.At.After(prev) {
				if !sleep(ctx, sample.At.Sub(prev)) {
					return false
				}
			}
			if err == nil {
				prev = sample.At
			}
			select {
			case out <- domain.SampleEvent{Sample: sample, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// ScanSamples decodes JSON-lines motion samples, calling fn for each sample
// or per-line error until fn returns false or input ends.
func ScanSamples(r io.Reader, fn func(domain.MotionSample, error) bool) {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		sample := domain.MotionSample{}
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			if !fn(domain.MotionSample{}, fmt.Errorf("line %d: %w", line, err)) {
				return
			}
			continue
		}
		if !fn(sample, nil) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fn(domain.MotionSample{}, fmt.Errorf("read samples: %w", err))
	}
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open samples: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
