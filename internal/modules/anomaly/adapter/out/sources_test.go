package out_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	anomalyadapter "sosguard/internal/modules/anomaly/adapter/out"
	"sosguard/internal/modules/anomaly/domain"
)

func TestScanSamplesReportsBadLines(t *testing.T) {
	t.Parallel()
	input := strings.Join([]string{
		`# recorded on the ring road`,
		`{"at":"2026-03-01T09:00:00Z","ax":0.1,"ay":0,"az":1}`,
		`{broken`,
		``,
		`{"at":"2026-03-01T09:00:01Z","ax":4,"ay":0,"az":1,"gx":2}`,
	}, "\n")
	var samples []domain.MotionSample
	var faults int
	anomalyadapter.ScanSamples(strings.NewReader(input), func(s domain.MotionSample, err error) bool {
		if err != nil {
			faults++
			return true
		}
		samples = append(samples, s)
		return true
	})
	if len(samples) != 2 || faults != 1 {
		t.Fatalf("samples=%d faults=%d", len(samples), faults)
	}
	if samples[1].AccelX != 4 || samples[1].GyroX != 2 {
		t.Fatalf("unexpected sample %+v", samples[1])
	}
}

func TestFileSampleSourceStreamsAndCloses(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	payload := `{"at":"2026-03-01T09:00:00Z","ax":0,"ay":0,"az":1}` + "\n" + `nope` + "\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write samples: %v", err)
	}
	events, err := anomalyadapter.NewFileSampleSource(path, false).Stream(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got []domain.SampleEvent
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				continue
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not close")
		}
	}
	if len(got) != 2 || got[0].Err != nil || got[1].Err == nil {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestFileSampleSourceMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := anomalyadapter.NewFileSampleSource(filepath.Join(t.TempDir(), "none.jsonl"), false).Stream(context.Background()); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestMagnitudeScorer(t *testing.T) {
	t.Parallel()
	scorer := anomalyadapter.NewMagnitudeScorer()
	ctx := context.Background()
	resting, _ := scorer.Score(ctx, []domain.MotionSample{{AccelZ: 1}, {AccelZ: 1.02}})
	if resting > 0.05 {
		t.Fatalf("resting score %v", resting)
	}
	crash, _ := scorer.Score(ctx, []domain.MotionSample{{AccelZ: 1}, {AccelX: 4, AccelZ: 1, GyroZ: 12}})
	if crash < 0.7 || crash > 1 {
		t.Fatalf("crash score %v", crash)
	}
	if empty, _ := scorer.Score(ctx, nil); empty != 0 {
		t.Fatalf("empty window score %v", empty)
	}
}
