package out

import (
	"context"
	"fmt"
	"math"

	"sosguard/internal/modules/escalation/domain"
	escalationout "sosguard/internal/modules/escalation/port/out"
)

// StaticLocation reports a fixed, configured position.
type StaticLocation struct {
	location domain.Location
}

func NewStaticLocation(lat, lon float64) escalationout.LocationProvider {
	return StaticLocation{location: domain.Location{Latitude: lat, Longitude: lon}}
}

func (s StaticLocation) CurrentLocation(context.Context) (domain.Location, error) {
	if math.Abs(s.location.Latitude) > 90 || math.Abs(s.location.Longitude) > 180 {
		return domain.Location{}, fmt.Errorf("configured location %v,%v is out of range", s.location.Latitude, s.location.Longitude)
	}
	return s.location, nil
}
