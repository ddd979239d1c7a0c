package out

import (
	"context"
	"testing"
)

func TestStaticLocation(t *testing.T) {
	t.Parallel()
	loc, err := NewStaticLocation(12.5, -70.25).CurrentLocation(context.Background())
	if err != nil || loc.Latitude != 12.5 || loc.Longitude != -70.25 {
		t.Fatalf("unexpected location %+v err=%v", loc, err)
	}
	if _, err := NewStaticLocation(91, 0).CurrentLocation(context.Background()); err == nil {
		t.Fatalf("expected out-of-range latitude to fail")
	}
}
