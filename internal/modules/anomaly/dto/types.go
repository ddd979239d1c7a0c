package dto

import "time"

type ScoreOutput struct {
	At    time.Time
	Score float64
}

type CrashOutput struct {
	CandidateSince time.Time
	ConfirmedAt    time.Time
	Score          float64
}

type StatusOutput struct {
	State           string
	CandidateSince  time.Time
	LastConfirmedAt time.Time
	LastScore       float64
	Samples         int
}

type ReplayInput struct {
	// Path is a JSON-lines sample file; "-" reads stdin.
	Path string
}

type ReplayOutput struct {
	Samples int
	Scores  []ScoreOutput
	Crashes []CrashOutput
	Faults  []string
	Final   StatusOutput
}
