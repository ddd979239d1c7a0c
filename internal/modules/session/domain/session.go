package domain

import (
	"fmt"
	"strings"
	"time"
)

const SchemaVersion = 1

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusArrived   Status = "ARRIVED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusAccepted, StatusArrived, StatusCompleted, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown session status %q", string(s))
	}
}

// Terminal statuses schedule the session for removal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Live statuses are worth resuming after a restart.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusArrived
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusAccepted:
		return 2
	case StatusArrived:
		return 3
	case StatusCompleted, StatusCancelled:
		return 4
	default:
		return 0
	}
}

// Ahead reports whether s is strictly further along the lifecycle than other.
func (s Status) Ahead(other Status) bool {
	return s.rank() > other.rank()
}

// Session is the server-authoritative view of one SOS dispatch.
type Session struct {
	ID                    string    `json:"id"`
	CounterpartyName      string    `json:"counterparty_name,omitempty"`
	CounterpartyPhone     string    `json:"counterparty_phone,omitempty"`
	OriginLatitude        float64   `json:"origin_latitude"`
	OriginLongitude       float64   `json:"origin_longitude"`
	Status                Status    `json:"status"`
	CounterpartyLatitude  *float64  `json:"counterparty_latitude,omitempty"`
	CounterpartyLongitude *float64  `json:"counterparty_longitude,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func (s Session) IsZero() bool {
	return s.ID == ""
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	return s.Status.Validate()
}

// Placeholder stands in for a restored session until the server copy is fetched.
func Placeholder(id string, status Status) Session {
	return Session{ID: id, Status: status}
}

// Record is the durable mirror of the tracked session. It has no identity of
// its own; all fields are erased together.
type Record struct {
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	PickupAt  time.Time `json:"pickup_at,omitempty"`
}

func (r Record) Empty() bool {
	return r.SessionID == ""
}

// PickupRecorded reports whether arrival was confirmed for sessionID.
func (r Record) PickupRecorded(sessionID string) bool {
	return r.SessionID == sessionID && !r.PickupAt.IsZero()
}

type TriggerType string

const (
	TriggerCrash  TriggerType = "crash"
	TriggerVoice  TriggerType = "voice"
	TriggerManual TriggerType = "manual"
)

// CreateRequest asks the server to open a new SOS session.
type CreateRequest struct {
	Trigger        TriggerType `json:"trigger"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	IdempotencyKey string      `json:"-"`
}
