package decision

import (
	"fmt"
	"math"
)

// Action is the recommendation computeAction produces.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionWait    Action = "WAIT"
	ActionSkip    Action = "SKIP"
)

// Decision is the output of ComputeAction.
type Decision struct {
	Action     Action
	Confidence float64
	Reason     string
}

// ComputeAction turns aggregated numbers into an action recommendation
// (spec §4.4). adjustedProfit = netProfitPct - slippagePct; premiumRisk =
// volatilityPct * sqrt(transferTimeMin/60); score = adjustedProfit -
// premiumRisk.
func ComputeAction(netProfitPct, slippagePct, transferTimeMin, volatilityPct float64) Decision {
	adjustedProfit := netProfitPct - slippagePct
	premiumRisk := volatilityPct * math.Sqrt(transferTimeMin/60)
	score := adjustedProfit - premiumRisk

	var action Action
	var confidence float64

	switch {
	case score > 1.0:
		action = ActionExecute
		confidence = math.Min(0.95, 0.80+(score-1.0)*0.05)
	case score > 0:
		action = ActionWait
		confidence = 0.5 + score*0.3
	default:
		action = ActionSkip
		confidence = math.Max(0.10, 0.5+score*0.2)
	}

	if confidence < 0.10 {
		confidence = 0.10
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	confidence = round2(confidence)

	reason := fmt.Sprintf("adjusted profit %.2f%% against premium risk %.2f%%", round2(adjustedProfit), round2(premiumRisk))

	return Decision{Action: action, Confidence: confidence, Reason: reason}
}

// round2 rounds to 2 decimal places using round-half-to-even, the
// convention spec §4.3 mandates for every publicly returned percentage.
func round2(v float64) float64 {
	scaled := v * 100
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		// Exactly halfway: round to even.
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	return rounded / 100
}

// Round2 exposes the shared rounding convention for the aggregation and
// routing layers.
func Round2(v float64) float64 { return round2(v) }
