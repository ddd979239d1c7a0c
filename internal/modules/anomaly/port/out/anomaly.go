package out

import (
	"context"

	"sosguard/internal/modules/anomaly/domain"
)

// Scorer turns the recent sample window into an anomaly score in [0,1].
type Scorer interface {
	Score(ctx context.Context, window []domain.MotionSample) (float64, error)
}

// SampleSource streams motion samples until ctx is cancelled. Faults are
// delivered as events with Err set; closing the channel means the stream
// terminated.
type SampleSource interface {
	Stream(ctx context.Context) (<-chan domain.SampleEvent, error)
}
