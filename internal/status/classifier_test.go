package status

import (
	"math"
	"testing"
)

func TestForProbability_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		p    float64
		want Status
	}{
		{"zero", 0.0, VeryLow},
		{"just below 0.2", 0.1999999, VeryLow},
		{"0.2 opens low", 0.2, Low},
		{"0.4 opens medium", 0.4, Medium},
		{"0.6 opens high", 0.6, High},
		{"0.8 opens very high", 0.8, VeryHigh},
		{"one is very high", 1.0, VeryHigh},
		{"negative clamps", -0.3, VeryLow},
		{"above one clamps", 1.7, VeryHigh},
		{"NaN clamps to zero", math.NaN(), VeryLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForProbability(tt.p); got != tt.want {
				t.Errorf("ForProbability(%v) = %s, want %s", tt.p, got, tt.want)
			}
		})
	}
}

func TestBands_PartitionUnitInterval(t *testing.T) {
	if bands[0].Lower != 0 {
		t.Fatalf("first band starts at %v", bands[0].Lower)
	}
	if bands[len(bands)-1].Upper != 1 {
		t.Fatalf("last band ends at %v", bands[len(bands)-1].Upper)
	}
	for i := 1; i < len(bands); i++ {
		if bands[i].Lower != bands[i-1].Upper {
			t.Errorf("gap or overlap between %s and %s", bands[i-1].Status, bands[i].Status)
		}
	}

	// Every sampled probability falls into exactly one band.
	for i := 0; i <= 1000; i++ {
		p := float64(i) / 1000
		matches := 0
		for j, b := range bands {
			last := j == len(bands)-1
			if (p >= b.Lower && p < b.Upper) || (last && p == 1) {
				matches++
			}
		}
		if matches != 1 {
			t.Fatalf("p=%v matched %d bands", p, matches)
		}
	}
}

func TestRank_Ordered(t *testing.T) {
	all := Statuses()
	for i := 1; i < len(all); i++ {
		if Rank(all[i]) <= Rank(all[i-1]) {
			t.Errorf("%s should rank above %s", all[i], all[i-1])
		}
	}
	if Rank("bogus") != -1 {
		t.Error("unknown status should rank -1")
	}
}

func TestClassify_NoTrend(t *testing.T) {
	a := Classify(0.25, nil)
	if a.Status != Low {
		t.Errorf("status = %s, want low", a.Status)
	}
	if a.Metrics.SuggestedAction != "Address objections before proceeding." {
		t.Errorf("action = %q", a.Metrics.SuggestedAction)
	}
	if a.Metrics.Momentum != nil || a.Metrics.Trend != "" {
		t.Error("no trend context should leave momentum unset")
	}
	if math.Abs(a.Metrics.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", a.Metrics.Confidence)
	}
}

func TestClassify_Trend(t *testing.T) {
	tests := []struct {
		name      string
		p, prev   float64
		trend     string
		escalated bool
		action    string
	}{
		{"steady high", 0.7, 0.71, Steady, false, SuggestedAction(High)},
		{"rising medium", 0.5, 0.4, Rising, false, SuggestedAction(Medium)},
		{"high slipping", 0.65, 0.9, Falling, true, actionSlipping},
		{"very high slipping", 0.82, 0.95, Falling, true, actionSlipping},
		{"high small dip", 0.7, 0.75, Falling, false, SuggestedAction(High)},
		{"low recovering", 0.35, 0.1, Rising, true, actionRising},
		{"very low falling", 0.05, 0.3, Falling, false, SuggestedAction(VeryLow)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Classify(tt.p, &Trend{Previous: tt.prev})
			if a.Metrics.Momentum == nil {
				t.Fatal("momentum not set")
			}
			if math.Abs(*a.Metrics.Momentum-(tt.p-tt.prev)) > 1e-12 {
				t.Errorf("momentum = %v, want %v", *a.Metrics.Momentum, tt.p-tt.prev)
			}
			if a.Metrics.Trend != tt.trend {
				t.Errorf("trend = %s, want %s", a.Metrics.Trend, tt.trend)
			}
			if a.Metrics.Escalated != tt.escalated {
				t.Errorf("escalated = %v, want %v", a.Metrics.Escalated, tt.escalated)
			}
			if a.Metrics.SuggestedAction != tt.action {
				t.Errorf("action = %q, want %q", a.Metrics.SuggestedAction, tt.action)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	tr := &Trend{Previous: 0.42}
	a := Classify(0.61, tr)
	b := Classify(0.61, tr)
	if a.Status != b.Status || a.Metrics.SuggestedAction != b.Metrics.SuggestedAction || *a.Metrics.Momentum != *b.Metrics.Momentum {
		t.Errorf("classification not deterministic: %+v vs %+v", a, b)
	}
}
