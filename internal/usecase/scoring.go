package usecase

import (
	"fmt"

	"MarketScreener/internal/domain/models"
)

// DefaultScore ranks a candidate on recent momentum and relative volume.
// Scores are clamped to [0, 100]; the reason string names the dominant
// contributions for the selection report.
func DefaultScore(snap models.Snapshot, series models.Series) (float64, string) {
	score := 50.0

	shortMom := series.Momentum(5)
	longMom := series.Momentum(20)
	score += shortMom * 200
	score += longMom * 100

	volRatio := 1.0
	if avg := series.AvgVolume(); avg > 0 {
		volRatio = float64(snap.Volume) / avg
	}
	switch {
	case volRatio >= 3:
		score += 15
	case volRatio >= 2:
		score += 10
	case volRatio >= 1.5:
		score += 5
	}

	// Already-extended names score lower; the screen looks for early moves.
	if abs(snap.ChangeRate) > 0.08 {
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reason := fmt.Sprintf("mom5=%.2f%% mom20=%.2f%% vol=%.1fx", shortMom*100, longMom*100, volRatio)
	return score, reason
}
