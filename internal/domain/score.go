package domain

import (
	"fmt"
	"math"
)

// ScoreNormalization selects how a raw fishing score is rescaled to [0, 1].
type ScoreNormalization string

const (
	// NormalizeLinear maps [min, max] linearly onto [0, 1]. Negative raw
	// scores normalize to 0.
	NormalizeLinear ScoreNormalization = "linear"

	// NormalizePiecewise maps (0, 1) onto (0, 0.6) and [1, 5] onto
	// [0.6, 1.0]. Scores at or below 0 normalize to 0.
	NormalizePiecewise ScoreNormalization = "piecewise"
)

// ParseScoreNormalization validates a configured normalization name.
func ParseScoreNormalization(s string) (ScoreNormalization, error) {
	switch ScoreNormalization(s) {
	case NormalizeLinear, NormalizePiecewise:
		return ScoreNormalization(s), nil
	default:
		return "", fmt.Errorf("unknown score normalization %q", s)
	}
}

// NormalizeScore rescales score using mode. minScore and maxScore are the
// accepted score bounds and are only used by the linear mode.
func NormalizeScore(mode ScoreNormalization, score, minScore, maxScore float64) float64 {
	switch mode {
	case NormalizePiecewise:
		switch {
		case score <= 0:
			return 0
		case score < 1:
			return RoundTo6(score * 0.6)
		default:
			return RoundTo6(0.4*(score-1)/4 + 0.6)
		}
	default:
		if score < 0 {
			return 0
		}
		return RoundTo6((score - minScore) / (maxScore - minScore))
	}
}

// RoundTo6 rounds v to 6 decimal places.
func RoundTo6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
