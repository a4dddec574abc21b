package utils

import "testing"

func TestParseFloats(t *testing.T) {
	vals, err := ParseFloats("-1 0.5 2")
	if err != nil {
		t.Fatalf("ParseFloats failed: %v", err)
	}
	if len(vals) != 3 || vals[0] != -1 || vals[1] != 0.5 || vals[2] != 2 {
		t.Errorf("vals = %v, want [-1 0.5 2]", vals)
	}

	if _, err := ParseFloats("1 nope"); err == nil {
		t.Error("Expected error for non-numeric token")
	}
}

func TestValidateConfig(t *testing.T) {
	good := &Config{
		WeightsPath:  "weights.json",
		Strategy:     "sequential",
		DefaultBound: 1e6,
		InputLower:   []float64{-1, -1},
		InputUpper:   []float64{1, 1},
	}
	if err := ValidateConfig(good); err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}

	bad := *good
	bad.Strategy = "magic"
	if err := ValidateConfig(&bad); err == nil {
		t.Error("Expected error for unknown strategy")
	}

	bad = *good
	bad.InputUpper = []float64{1}
	if err := ValidateConfig(&bad); err == nil {
		t.Error("Expected error for mismatched input bounds")
	}
}
