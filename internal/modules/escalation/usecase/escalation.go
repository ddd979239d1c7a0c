package usecase

import (
	"context"
	"strings"

	"sosguard/internal/modules/escalation/domain"
	"sosguard/internal/modules/escalation/dto"
	escalationin "sosguard/internal/modules/escalation/port/in"
	"sosguard/internal/modules/escalation/service"
)

type Interactor struct {
	escalator *service.Escalator
}

var _ escalationin.Usecase = (*Interactor)(nil)

func NewInteractor(escalator *service.Escalator) *Interactor {
	return &Interactor{escalator: escalator}
}

func (i *Interactor) Trigger(ctx context.Context, input dto.TriggerInput) (bool, error) {
	kind := strings.ToLower(strings.TrimSpace(input.Type))
	if kind == "" {
		kind = domain.TriggerManual
	}
	return i.escalator.Trigger(ctx, domain.Trigger{Type: kind, Detail: input.Detail})
}

func (i *Interactor) Cancel() bool {
	return i.escalator.Cancel()
}

func (i *Interactor) Pending() (dto.PendingOutput, bool) {
	trigger, deadline, ok := i.escalator.Pending()
	if !ok {
		return dto.PendingOutput{}, false
	}
	return dto.PendingOutput{Type: trigger.Type, Detail: trigger.Detail, Since: trigger.At, Deadline: deadline}, true
}
