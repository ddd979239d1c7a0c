package out

import (
	"context"

	"sosguard/internal/modules/escalation/domain"
)

// LocationProvider reports where the device is, for the origin of a new
// session.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (domain.Location, error)
}
