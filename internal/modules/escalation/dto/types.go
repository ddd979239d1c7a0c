package dto

import "time"

type TriggerInput struct {
	Type   string
	Detail string
}

type PendingOutput struct {
	Type     string
	Detail   string
	Since    time.Time
	Deadline time.Time
}
