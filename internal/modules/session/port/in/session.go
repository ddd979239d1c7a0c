package in

import (
	"context"

	"sosguard/internal/modules/session/dto"
)

type Usecase interface {
	Restore(ctx context.Context) error
	Begin(ctx context.Context, input dto.BeginInput) (dto.SessionOutput, error)
	Accept(ctx context.Context, sessionID string) (dto.SessionOutput, error)
	MarkArrived(ctx context.Context, sessionID string) error
	Complete(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
	Current(ctx context.Context) (dto.SessionOutput, error)
	Record(ctx context.Context) (dto.RecordOutput, error)
	Watch(fn func(dto.SessionOutput)) func()
	Close() error
}
