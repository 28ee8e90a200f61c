// Package status buckets conversion probabilities into discrete labels and
// attaches the suggested next sales move.
package status

import "math"

// Status is an ordinal conversion bucket.
type Status string

const (
	VeryLow  Status = "very_low"
	Low      Status = "low"
	Medium   Status = "medium"
	High     Status = "high"
	VeryHigh Status = "very_high"
)

// band is a closed-open interval [Lower, Upper); the last band also
// includes 1.0.
type band struct {
	Lower  float64
	Upper  float64
	Status Status
	Action string
}

// bands partitions [0,1] with no gaps or overlaps, ordered by Lower.
var bands = []band{
	{0.0, 0.2, VeryLow, "Re-qualify the lead: uncover the core need before pitching."},
	{0.2, 0.4, Low, "Address objections before proceeding."},
	{0.4, 0.6, Medium, "Build value: tie features to the customer's stated goals."},
	{0.6, 0.8, High, "Propose a concrete next step."},
	{0.8, 1.0, VeryHigh, "Close: confirm terms and schedule onboarding."},
}

const (
	// trendEpsilon is the smallest move reported as rising/falling.
	trendEpsilon = 0.02
	// escalationDelta is the move against the current status that
	// replaces the catalogue action.
	escalationDelta = 0.10

	actionSlipping = "Momentum is slipping: confirm remaining concerns before asking for the close."
	actionRising   = "Interest is rising: reinforce value and suggest a next step."
)

// Trend values.
const (
	Rising  = "rising"
	Falling = "falling"
	Steady  = "steady"
)

// Trend is the context available when classifying inside a progression.
type Trend struct {
	Previous float64
}

// Metrics accompanies a status.
type Metrics struct {
	SuggestedAction string   `json:"suggested_action"`
	Confidence      float64  `json:"confidence"`
	Momentum        *float64 `json:"momentum,omitempty"`
	Trend           string   `json:"trend,omitempty"`
	Escalated       bool     `json:"escalated,omitempty"`
}

// Assessment is the classifier output.
type Assessment struct {
	Probability float64
	Status      Status
	Metrics     Metrics
}

// Statuses lists every status from lowest to highest.
func Statuses() []Status {
	out := make([]Status, len(bands))
	for i, b := range bands {
		out[i] = b.Status
	}
	return out
}

// Rank orders statuses; unknown statuses rank -1.
func Rank(s Status) int {
	for i, b := range bands {
		if b.Status == s {
			return i
		}
	}
	return -1
}

// Clamp forces p into [0,1]; NaN maps to 0.
func Clamp(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ForProbability returns the status whose band contains p.
func ForProbability(p float64) Status {
	return bandFor(Clamp(p)).Status
}

// SuggestedAction returns the catalogue action for a status.
func SuggestedAction(s Status) string {
	for _, b := range bands {
		if b.Status == s {
			return b.Action
		}
	}
	return bands[2].Action
}

func bandFor(p float64) band {
	for _, b := range bands {
		if p >= b.Lower && p < b.Upper {
			return b
		}
	}
	return bands[len(bands)-1]
}

// Classify maps a probability and optional trend context to a status and
// metrics. It is a pure function of its arguments.
func Classify(p float64, trend *Trend) Assessment {
	p = Clamp(p)
	b := bandFor(p)

	a := Assessment{
		Probability: p,
		Status:      b.Status,
		Metrics: Metrics{
			SuggestedAction: b.Action,
			Confidence:      math.Abs(p-0.5) * 2,
		},
	}
	if trend == nil {
		return a
	}

	momentum := p - Clamp(trend.Previous)
	a.Metrics.Momentum = &momentum
	switch {
	case momentum > trendEpsilon:
		a.Metrics.Trend = Rising
	case momentum < -trendEpsilon:
		a.Metrics.Trend = Falling
	default:
		a.Metrics.Trend = Steady
	}

	rank := Rank(b.Status)
	switch {
	case rank >= Rank(High) && momentum <= -escalationDelta:
		a.Metrics.SuggestedAction = actionSlipping
		a.Metrics.Escalated = true
	case rank <= Rank(Low) && momentum >= escalationDelta:
		a.Metrics.SuggestedAction = actionRising
		a.Metrics.Escalated = true
	}
	return a
}
