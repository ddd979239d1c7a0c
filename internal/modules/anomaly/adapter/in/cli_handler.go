package in

import (
	"context"

	anomalydto "sosguard/internal/modules/anomaly/dto"
	anomalyin "sosguard/internal/modules/anomaly/port/in"
)

type CLIHandler struct {
	usecase anomalyin.Usecase
}

func NewCLIHandler(usecase anomalyin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Replay(ctx context.Context, path string) (anomalydto.ReplayOutput, error) {
	return h.usecase.Replay(ctx, anomalydto.ReplayInput{Path: path})
}

func (h CLIHandler) Status() anomalydto.StatusOutput {
	return h.usecase.Status()
}

func (h CLIHandler) History() []anomalydto.ScoreOutput {
	return h.usecase.History()
}
