package out

import (
	"context"

	"sosguard/internal/modules/voice/domain"
)

// TokenSource streams recognized speech until ctx is cancelled. Recognizer
// faults are delivered as events with Err set; closing the channel means
// the stream terminated.
type TokenSource interface {
	Stream(ctx context.Context) (<-chan domain.TokenEvent, error)
}
