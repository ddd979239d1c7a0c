package in

import (
	"context"

	voicedto "sosguard/internal/modules/voice/dto"
	voicein "sosguard/internal/modules/voice/port/in"
)

type CLIHandler struct {
	usecase voicein.Usecase
}

func NewCLIHandler(usecase voicein.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Replay(ctx context.Context, path string) (voicedto.ReplayOutput, error) {
	return h.usecase.Replay(ctx, voicedto.ReplayInput{Path: path})
}

func (h CLIHandler) Status() voicedto.StatusOutput {
	return h.usecase.Status()
}

func (h CLIHandler) ResetCooldown() {
	h.usecase.ResetCooldown()
}
