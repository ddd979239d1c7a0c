package in

import (
	"context"

	"sosguard/internal/modules/voice/dto"
)

type Usecase interface {
	Start(ctx context.Context) error
	Stop()
	ResetCooldown()
	Status() dto.StatusOutput
	Replay(ctx context.Context, input dto.ReplayInput) (dto.ReplayOutput, error)
}
