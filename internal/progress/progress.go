// Package progress computes capped completion percentages for tasks.
package progress

import "math"

// ComputePercent returns the completion percentage for a task given its
// measurement target and the sum of approved absolute contributions.
//
// A missing or non-positive target means the task has no quantitative goal:
// any positive contribution completes it (100), none leaves it at 0. With a
// positive target the result is contributed/target*100, rounded to two
// decimals, clamped to [0, 100]. Total function: never returns NaN or
// a negative value.
func ComputePercent(totalExpected *float64, contributedAbsolute float64) float64 {
	if totalExpected == nil || *totalExpected <= 0 {
		if contributedAbsolute > 0 {
			return 100
		}
		return 0
	}

	if contributedAbsolute <= 0 {
		return 0
	}

	pct := round2(contributedAbsolute / *totalExpected * 100)
	if pct > 100 {
		return 100
	}
	return pct
}

// Points converts a capped percent into points against a task's reward,
// rounded to the ledger's four-decimal precision.
func Points(percent, rewardPoints float64) float64 {
	return Round4(percent / 100 * rewardPoints)
}

// Round4 rounds to four decimal places, the ledger's stated precision.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
