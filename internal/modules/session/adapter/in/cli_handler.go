package in

import (
	"context"

	sessiondto "sosguard/internal/modules/session/dto"
	sessionin "sosguard/internal/modules/session/port/in"
)

type CLIHandler struct {
	usecase sessionin.Usecase
}

func NewCLIHandler(usecase sessionin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Restore(ctx context.Context) error {
	return h.usecase.Restore(ctx)
}

func (h CLIHandler) Begin(ctx context.Context, trigger string, lat, lon float64) (sessiondto.SessionOutput, error) {
	return h.usecase.Begin(ctx, sessiondto.BeginInput{Trigger: trigger, Latitude: lat, Longitude: lon})
}

func (h CLIHandler) Accept(ctx context.Context, sessionID string) (sessiondto.SessionOutput, error) {
	return h.usecase.Accept(ctx, sessionID)
}

func (h CLIHandler) Arrive(ctx context.Context, sessionID string) error {
	return h.usecase.MarkArrived(ctx, sessionID)
}

func (h CLIHandler) Complete(ctx context.Context, sessionID string) error {
	return h.usecase.Complete(ctx, sessionID)
}

func (h CLIHandler) Clear(ctx context.Context) error {
	return h.usecase.Clear(ctx)
}

func (h CLIHandler) Current(ctx context.Context) (sessiondto.SessionOutput, error) {
	return h.usecase.Current(ctx)
}

func (h CLIHandler) Record(ctx context.Context) (sessiondto.RecordOutput, error) {
	return h.usecase.Record(ctx)
}

func (h CLIHandler) Watch(fn func(sessiondto.SessionOutput)) func() {
	return h.usecase.Watch(fn)
}
