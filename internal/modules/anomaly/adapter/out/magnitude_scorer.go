package out

import (
	"context"
	"math"

	"sosguard/internal/modules/anomaly/domain"
)

// MagnitudeScorer is the built-in scorer used when no plugin is configured.
// It rates the window by its peak deviation from 1 g and its peak rotation
// rate, each normalised against a crash-level reference.
type MagnitudeScorer struct {
	// ImpactG is the acceleration deviation, in g, that scores 1.
	ImpactG float64
	// SpinRadPerSec is the rotation rate that scores 1.
	SpinRadPerSec float64
}

func NewMagnitudeScorer() MagnitudeScorer {
	return MagnitudeScorer{ImpactG: 3, SpinRadPerSec: 10}
}

func (s MagnitudeScorer) Score(_ context.Context, window []domain.MotionSample) (float64, error) {
	if len(window) == 0 {
		return 0, nil
	}
	impact, spin := 0.0, 0.0
	for _, sample := range window {
		impact = math.Max(impact, math.Abs(sample.AccelMagnitude()-1))
		spin = math.Max(spin, sample.GyroMagnitude())
	}
	score := 0.75*ratio(impact, s.ImpactG) + 0.25*ratio(spin, s.SpinRadPerSec)
	return domain.ClampScore(score), nil
}

func ratio(v, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	return math.Min(v/ref, 1)
}
