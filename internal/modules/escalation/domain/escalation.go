package domain

import (
	"fmt"
	"time"
)

const DefaultCountdown = 10 * time.Second

const (
	TriggerCrash  = "crash"
	TriggerVoice  = "voice"
	TriggerManual = "manual"
)

// Trigger is a confirmed request to raise an SOS, waiting out the
// user-cancellable countdown.
type Trigger struct {
	Type   string
	Detail string
	At     time.Time
}

func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerCrash, TriggerVoice, TriggerManual:
		return nil
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

type Location struct {
	Latitude  float64
	Longitude float64
}
