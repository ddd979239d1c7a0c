package dto

import "time"

type TriggerOutput struct {
	Type       string
	Keyword    string
	Transcript string
	At         time.Time
}

type StatusOutput struct {
	Listening       bool
	CoolingDown     bool
	CooldownUntil   time.Time
	LastTriggeredAt time.Time
}

type ReplayInput struct {
	// Path is a recorded transcript; "-" reads stdin.
	Path string
}

type ReplayOutput struct {
	Tokens   int
	Triggers []TriggerOutput
	Faults   []string
}
