package policy

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const tinyArtifact = `{
	"version": "test-1",
	"input_dim": 3,
	"hidden": [
		{"weights": [[1, 0, 0], [0, 1, 0]], "bias": [0, 0], "activation": "identity"}
	],
	"policy": {"weights": [2, -2], "bias": 0},
	"value": {"weights": [1, 1], "bias": 0.5}
}`

func mustScorer(t *testing.T, raw string, dim int) *Scorer {
	t.Helper()
	a, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := NewScorer(a, dim)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func TestScore_Forward(t *testing.T) {
	s := mustScorer(t, tinyArtifact, 3)

	out, err := s.Score([]float64{1, 0, 7})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := 1 / (1 + math.Exp(-2))
	if math.Abs(out.Probability-want) > 1e-12 {
		t.Errorf("probability = %v, want %v", out.Probability, want)
	}
	if out.Value == nil || *out.Value != 1.5 {
		t.Errorf("value = %v, want 1.5", out.Value)
	}
	if s.Version() != "test-1" {
		t.Errorf("version = %q", s.Version())
	}
}

func TestScore_ProbabilityRange(t *testing.T) {
	s := mustScorer(t, tinyArtifact, 3)
	inputs := [][]float64{
		{1e6, -1e6, 0},
		{-1e6, 1e6, 0},
		{0, 0, 0},
		{1e300, 0, 0},
	}
	for _, in := range inputs {
		out, err := s.Score(in)
		if err != nil {
			t.Fatalf("Score(%v): %v", in, err)
		}
		if out.Probability < 0 || out.Probability > 1 {
			t.Errorf("Score(%v) = %v out of [0,1]", in, out.Probability)
		}
	}
}

func TestScore_Rejects(t *testing.T) {
	s := mustScorer(t, tinyArtifact, 3)
	if _, err := s.Score([]float64{1, 2}); err == nil {
		t.Error("expected error for short observation")
	}
	if _, err := s.Score([]float64{math.NaN(), 0, 0}); err == nil {
		t.Error("expected error for NaN observation")
	}
}

func TestNewScorer_DimensionMismatch(t *testing.T) {
	a, err := Parse([]byte(tinyArtifact))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewScorer(a, 4)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if _, err := NewScorer(nil, 3); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for nil artifact, got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"zero input", `{"input_dim": 0, "policy": {"weights": []}}`},
		{"bad head width", `{"input_dim": 2, "policy": {"weights": [1]}}`},
		{"ragged hidden", `{"input_dim": 2, "hidden": [{"weights": [[1]], "bias": [0]}], "policy": {"weights": [1]}}`},
		{"bias count", `{"input_dim": 1, "hidden": [{"weights": [[1]], "bias": []}], "policy": {"weights": [1]}}`},
		{"unknown activation", `{"input_dim": 1, "hidden": [{"weights": [[1]], "bias": [0], "activation": "swish"}], "policy": {"weights": [1]}}`},
		{"bad value head", `{"input_dim": 1, "policy": {"weights": [1]}, "value": {"weights": [1, 2]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("expected ErrModelUnavailable, got %v", err)
			}
		})
	}
}

func TestLoadScorer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, []byte(tinyArtifact), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadScorer(path, 3)
	if err != nil {
		t.Fatalf("LoadScorer: %v", err)
	}
	if s.InputDim() != 3 {
		t.Errorf("InputDim = %d", s.InputDim())
	}

	if _, err := LoadScorer(filepath.Join(dir, "missing.json"), 3); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable for missing file, got %v", err)
	}
}

func TestNewScorer_CopiesWeights(t *testing.T) {
	a, err := Parse([]byte(tinyArtifact))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScorer(a, 3)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := s.Score([]float64{1, 0, 0})

	a.Policy.Weights[0] = 100
	a.Hidden[0].Weights[0][0] = -5

	after, _ := s.Score([]float64{1, 0, 0})
	if before.Probability != after.Probability {
		t.Errorf("scorer changed after artifact mutation: %v -> %v", before.Probability, after.Probability)
	}
}

func TestScore_Concurrent(t *testing.T) {
	s := mustScorer(t, tinyArtifact, 3)
	want, _ := s.Score([]float64{0.3, 0.1, 0})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Score([]float64{float64(i), -float64(i), 1}); err != nil {
				t.Errorf("Score: %v", err)
			}
			got, _ := s.Score([]float64{0.3, 0.1, 0})
			if got.Probability != want.Probability {
				t.Errorf("concurrent score drifted: %v != %v", got.Probability, want.Probability)
			}
		}(i)
	}
	wg.Wait()
}
