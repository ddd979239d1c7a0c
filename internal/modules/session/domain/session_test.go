package domain_test

import (
	"testing"
	"time"

	"sosguard/internal/modules/session/domain"
)

func TestStatusLifecycle(t *testing.T) {
	t.Parallel()
	if !domain.StatusCompleted.Terminal() || !domain.StatusCancelled.Terminal() || domain.StatusArrived.Terminal() {
		t.Fatalf("unexpected terminal set")
	}
	if !domain.StatusArrived.Ahead(domain.StatusAccepted) || domain.StatusAccepted.Ahead(domain.StatusArrived) {
		t.Fatalf("unexpected ordering between accepted and arrived")
	}
}

func TestParseStatusAndRecordHelpers(t *testing.T) {
	t.Parallel()
	s, err := domain.ParseStatus(" arrived ")
	if err != nil || s != domain.StatusArrived {
		t.Fatalf("parse status: %v %s", err, s)
	}
	if _, err := domain.ParseStatus("LOST"); err == nil {
		t.Fatalf("unknown status must fail")
	}
	rec := domain.Record{SessionID: "42", Status: domain.StatusArrived}
	if rec.PickupRecorded("42") {
		t.Fatalf("pickup must not be reported without timestamp")
	}
	rec.PickupAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !rec.PickupRecorded("42") || rec.PickupRecorded("43") {
		t.Fatalf("pickup should only match its own session id")
	}
	if !(domain.Record{}).Empty() {
		t.Fatalf("zero record should be empty")
	}
}
