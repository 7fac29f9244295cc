package scoring

import "math"

// Category buckets a risk score.
type Category string

const (
	CategoryLow      Category = "low"
	CategoryMedium   Category = "medium"
	CategoryHigh     Category = "high"
	CategoryCritical Category = "critical"
)

// CategoryFor maps a score onto its category. Thresholds are fixed and
// non-decreasing.
func CategoryFor(score float64) Category {
	switch {
	case score < 0.25:
		return CategoryLow
	case score < 0.5:
		return CategoryMedium
	case score < 0.75:
		return CategoryHigh
	default:
		return CategoryCritical
	}
}

// SeverityMultiplier returns the scaling factor for a severity level.
// Unknown severities count as medium.
func SeverityMultiplier(severity string) float64 {
	switch severity {
	case "low":
		return 0.25
	case "medium":
		return 0.5
	case "high":
		return 0.75
	case "critical":
		return 1.0
	default:
		return 0.5
	}
}

// SeverityRank orders severities from most to least severe.
func SeverityRank(severity string) int {
	switch severity {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	default:
		return 4
	}
}

func round(value float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}

func clampFloat(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
