package in

import (
	"context"

	"sosguard/internal/modules/escalation/dto"
)

type Usecase interface {
	// Trigger starts the countdown and reports whether one was started.
	Trigger(ctx context.Context, input dto.TriggerInput) (bool, error)
	Cancel() bool
	Pending() (dto.PendingOutput, bool)
}
