package gate_test

import (
	"testing"
	"time"

	"sosguard/internal/platform/clock"
	"sosguard/internal/platform/gate"
)

func TestGateConfirmsAfterWindow(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	g := gate.New(clk, 5*time.Second)
	confirmed := 0
	if !g.Open(func(time.Time) { confirmed++ }) {
		t.Fatalf("first open should start a window")
	}
	if g.Open(func(time.Time) { confirmed += 10 }) {
		t.Fatalf("second open while pending must be a no-op")
	}
	clk.Advance(4 * time.Second)
	if confirmed != 0 {
		t.Fatalf("confirmed before window elapsed")
	}
	clk.Advance(time.Second)
	if confirmed != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", confirmed)
	}
	if _, pending := g.Pending(); pending {
		t.Fatalf("gate should close after confirming")
	}
}

func TestGateCancelDropsCandidate(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	g := gate.New(clk, 5*time.Second)
	confirmed := false
	g.Open(func(time.Time) { confirmed = true })
	clk.Advance(3 * time.Second)
	if !g.Cancel() {
		t.Fatalf("cancel should report an open window")
	}
	if g.Cancel() {
		t.Fatalf("second cancel should be a no-op")
	}
	clk.Advance(10 * time.Second)
	if confirmed {
		t.Fatalf("cancelled window must not confirm")
	}
}

func TestGateZeroWindowConfirmsImmediately(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	g := gate.New(clk, 0)
	confirmed := false
	g.Open(func(time.Time) { confirmed = true })
	if !confirmed {
		t.Fatalf("zero window should confirm synchronously")
	}
}
