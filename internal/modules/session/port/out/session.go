package out

import (
	"context"
	"time"

	"sosguard/internal/modules/session/domain"
)

// DispatchAPI is the request/response side of the dispatch server. Failed
// calls must not be assumed to have changed anything server-side.
type DispatchAPI interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	CreateSession(ctx context.Context, req domain.CreateRequest) (domain.Session, error)
	AcceptSession(ctx context.Context, sessionID string) (domain.Session, error)
	MarkArrived(ctx context.Context, sessionID string) (domain.Session, error)
	CompleteSession(ctx context.Context, sessionID string) (domain.Session, error)
}

// Channel is the server push stream. Every delivery is a full snapshot and
// may repeat a previous one.
type Channel interface {
	Subscribe(ctx context.Context, sessionID string, onSession func(domain.Session)) (Subscription, error)
}

// Subscription stops further deliveries once Unsubscribe is called; one
// already running may still finish. Unsubscribe is safe to call more than
// once.
type Subscription interface {
	Unsubscribe() error
}

// RecordStore persists the durable mirror of the tracked session across
// restarts. LoadRecord returns apperrors.ErrNoActiveSession when empty.
type RecordStore interface {
	LoadRecord(ctx context.Context) (domain.Record, error)
	// SaveStatus writes the session id and status together, keeping the
	// pickup timestamp only when the id is unchanged.
	SaveStatus(ctx context.Context, sessionID string, status domain.Status) error
	// SavePickup writes the pickup timestamp for the stored session id only.
	SavePickup(ctx context.Context, sessionID string, at time.Time) error
	ClearRecord(ctx context.Context) error
	Close() error
}
