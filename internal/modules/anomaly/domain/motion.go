package domain

import (
	"fmt"
	"math"
	"time"
)

const (
	DefaultThreshold    = 0.7
	DefaultVerification = 5 * time.Second
	DefaultHistorySize  = 50
	DefaultWindowSize   = 25
)

// MotionSample is one accelerometer/gyroscope reading. Acceleration is in g,
// rotation in rad/s.
type MotionSample struct {
	At     time.Time `json:"at"`
	AccelX float64   `json:"ax"`
	AccelY float64   `json:"ay"`
	AccelZ float64   `json:"az"`
	GyroX  float64   `json:"gx,omitempty"`
	GyroY  float64   `json:"gy,omitempty"`
	GyroZ  float64   `json:"gz,omitempty"`
}

func (s MotionSample) AccelMagnitude() float64 {
	return math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
}

func (s MotionSample) GyroMagnitude() float64 {
	return math.Sqrt(s.GyroX*s.GyroX + s.GyroY*s.GyroY + s.GyroZ*s.GyroZ)
}

// SampleEvent is one delivery from a sample stream: a sample or a fault.
type SampleEvent struct {
	Sample MotionSample
	Err    error
}

type Config struct {
	Threshold    float64
	Verification time.Duration
	HistorySize  int
	WindowSize   int
}

func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		Verification: DefaultVerification,
		HistorySize:  DefaultHistorySize,
		WindowSize:   DefaultWindowSize,
	}
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.Verification == 0 {
		c.Verification = d.Verification
	}
	if c.HistorySize == 0 {
		c.HistorySize = d.HistorySize
	}
	if c.WindowSize == 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}

func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("anomaly threshold must be in (0,1], got %v", c.Threshold)
	}
	if c.Verification <= 0 {
		return fmt.Errorf("verification duration must be positive, got %s", c.Verification)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1, got %d", c.HistorySize)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1, got %d", c.WindowSize)
	}
	return nil
}

type State string

const (
	StateStopped   State = "stopped"
	StateArmed     State = "armed"
	StateVerifying State = "verifying"
)

type ScorePoint struct {
	At    time.Time `json:"at"`
	Score float64   `json:"score"`
}

// CrashEvent is a confirmed crash: the score held at or above threshold for
// the whole verification window.
type CrashEvent struct {
	CandidateSince time.Time
	ConfirmedAt    time.Time
	Score          float64
}

type Status struct {
	State           State
	CandidateSince  time.Time
	LastConfirmedAt time.Time
	LastScore       float64
	Samples         int
}

// ClampScore forces a scorer result into [0,1]. NaN counts as no anomaly.
func ClampScore(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
