package dto

import "time"

type BeginInput struct {
	Trigger   string
	Latitude  float64
	Longitude float64
}

type SessionOutput struct {
	SessionID             string
	Status                string
	CounterpartyName      string
	CounterpartyPhone     string
	OriginLatitude        float64
	OriginLongitude       float64
	CounterpartyLatitude  *float64
	CounterpartyLongitude *float64
	CreatedAt             time.Time
	// Placeholder is set while a restored session waits for its server copy.
	Placeholder bool
}

func (o SessionOutput) Active() bool {
	return o.SessionID != ""
}

type RecordOutput struct {
	SessionID string
	Status    string
	PickupAt  time.Time
}
