package usecase

import (
	"context"
	"fmt"

	"sosguard/internal/modules/session/domain"
	sessiondto "sosguard/internal/modules/session/dto"
	sessionin "sosguard/internal/modules/session/port/in"
	"sosguard/internal/modules/session/service"
	apperrors "sosguard/internal/platform/errors"
	"sosguard/internal/platform/id"
)

type Interactor struct {
	svc   *service.SessionService
	idGen id.Generator
}

func NewInteractor(svc *service.SessionService, idGen id.Generator) sessionin.Usecase {
	if idGen == nil {
		idGen = id.UUID{}
	}
	return &Interactor{svc: svc, idGen: idGen}
}

func (i *Interactor) Restore(ctx context.Context) error {
	return i.svc.Restore(ctx)
}

func (i *Interactor) Begin(ctx context.Context, input sessiondto.BeginInput) (sessiondto.SessionOutput, error) {
	trigger := domain.TriggerType(input.Trigger)
	switch trigger {
	case domain.TriggerCrash, domain.TriggerVoice, domain.TriggerManual:
	case "":
		trigger = domain.TriggerManual
	default:
		return sessiondto.SessionOutput{}, fmt.Errorf("%w: unknown trigger %q", apperrors.ErrInvalidInput, input.Trigger)
	}
	session, err := i.svc.Begin(ctx, domain.CreateRequest{
		Trigger:        trigger,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		IdempotencyKey: i.idGen.New(),
	})
	if err != nil {
		return sessiondto.SessionOutput{}, err
	}
	return toOutput(service.Snapshot{Session: session}), nil
}

func (i *Interactor) Accept(ctx context.Context, sessionID string) (sessiondto.SessionOutput, error) {
	session, err := i.svc.Accept(ctx, sessionID)
	if err != nil {
		return sessiondto.SessionOutput{}, err
	}
	return toOutput(service.Snapshot{Session: session}), nil
}

func (i *Interactor) MarkArrived(ctx context.Context, sessionID string) error {
	return i.svc.MarkCounterpartyArrived(ctx, sessionID)
}

func (i *Interactor) Complete(ctx context.Context, sessionID string) error {
	return i.svc.Complete(ctx, sessionID)
}

func (i *Interactor) Clear(ctx context.Context) error {
	return i.svc.Clear(ctx)
}

func (i *Interactor) Current(_ context.Context) (sessiondto.SessionOutput, error) {
	snap := i.svc.Current()
	if !snap.Active() {
		return sessiondto.SessionOutput{}, apperrors.ErrNoActiveSession
	}
	return toOutput(snap), nil
}

func (i *Interactor) Record(ctx context.Context) (sessiondto.RecordOutput, error) {
	rec, err := i.svc.Record(ctx)
	if err != nil {
		return sessiondto.RecordOutput{}, err
	}
	if rec.Empty() {
		return sessiondto.RecordOutput{}, apperrors.ErrNoActiveSession
	}
	return sessiondto.RecordOutput{SessionID: rec.SessionID, Status: string(rec.Status), PickupAt: rec.PickupAt}, nil
}

func (i *Interactor) Watch(fn func(sessiondto.SessionOutput)) func() {
	return i.svc.Watch(func(snap service.Snapshot) {
		fn(toOutput(snap))
	})
}

func (i *Interactor) Close() error {
	return i.svc.Close()
}

func toOutput(snap service.Snapshot) sessiondto.SessionOutput {
	s := snap.Session
	return sessiondto.SessionOutput{
		SessionID:             s.ID,
		Status:                string(s.Status),
		CounterpartyName:      s.CounterpartyName,
		CounterpartyPhone:     s.CounterpartyPhone,
		OriginLatitude:        s.OriginLatitude,
		OriginLongitude:       s.OriginLongitude,
		CounterpartyLatitude:  s.CounterpartyLatitude,
		CounterpartyLongitude: s.CounterpartyLongitude,
		CreatedAt:             s.CreatedAt,
		Placeholder:           snap.Placeholder,
	}
}
