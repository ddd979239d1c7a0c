package in

import (
	"context"

	"sosguard/internal/modules/anomaly/dto"
)

type Usecase interface {
	Start(ctx context.Context) error
	Stop()
	History() []dto.ScoreOutput
	Status() dto.StatusOutput
	// Replay runs a recorded sample file through a fresh monitor whose clock
	// follows the sample timestamps.
	Replay(ctx context.Context, input dto.ReplayInput) (dto.ReplayOutput, error)
}
