package in

import (
	"context"

	"sosguard/internal/modules/escalation/dto"
	escalationin "sosguard/internal/modules/escalation/port/in"
)

type CLIHandler struct {
	usecase escalationin.Usecase
}

func NewCLIHandler(usecase escalationin.Usecase) *CLIHandler {
	return &CLIHandler{usecase: usecase}
}

func (h *CLIHandler) Trigger(ctx context.Context, kind, detail string) (bool, error) {
	return h.usecase.Trigger(ctx, dto.TriggerInput{Type: kind, Detail: detail})
}

func (h *CLIHandler) Cancel() bool {
	return h.usecase.Cancel()
}

func (h *CLIHandler) Pending() (dto.PendingOutput, bool) {
	return h.usecase.Pending()
}
