// Package analytics computes dashboard aggregates over stored trades, snapshots and fills.
// Every function here is pure: callers load rows from the stores and pass them in.
package analytics

import "math"

// Fee schedule used for revenue estimates. Fills carry no maker/taker flag so volume is
// split 70/30 between taker and maker.
const (
	TakerFee    = 0.00045
	MakerRebate = 0.00015
	TakerShare  = 0.7
	MakerShare  = 0.3
)

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// SafeDiv returns num/den, or 0 when den is zero or the result is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

// Percent returns part as a percentage of whole.
func Percent(part, whole float64) float64 {
	return finite(SafeDiv(part, whole) * 100)
}

// VolumeShare returns the summed volumes as a percentage of total market volume.
func VolumeShare(volumes []float64, total float64) float64 {
	var sum float64
	for _, v := range volumes {
		sum += v
	}
	return Percent(sum, total)
}

// RetentionRate is the share of a cohort still active, in percent.
func RetentionRate(active, cohortSize int) float64 {
	return Percent(float64(active), float64(cohortSize))
}

// HHI is the Herfindahl-Hirschman index over market shares given in percent.
func HHI(sharesPct []float64) float64 {
	var sum float64
	for _, s := range sharesPct {
		sum += s * s
	}
	return finite(sum)
}

// Concentration levels for an HHI value.
const (
	ConcentrationHigh     = "High"
	ConcentrationModerate = "Moderate"
	ConcentrationLow      = "Low"
)

// ConcentrationLevel classifies an HHI value.
func ConcentrationLevel(hhi float64) string {
	switch {
	case hhi > 2500:
		return ConcentrationHigh
	case hhi > 1500:
		return ConcentrationModerate
	default:
		return ConcentrationLow
	}
}

// GrowthRate is (new-old)/old in percent; 0 when old is 0.
func GrowthRate(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	return finite((new - old) / old * 100)
}

// Fees estimates taker fees, maker rebates and net platform revenue for a notional volume.
func Fees(volume float64) (takerFees, makerRebates, revenue float64) {
	takerFees = volume * TakerShare * TakerFee
	makerRebates = volume * MakerShare * MakerRebate
	return takerFees, makerRebates, takerFees - makerRebates
}
