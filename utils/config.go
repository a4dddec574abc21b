package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds tightening configuration
type Config struct {
	WeightsPath  string
	BoundsOut    string
	Strategy     string
	TimeLimit    time.Duration
	Workers      int
	DefaultBound float64
	InputLower   []float64
	InputUpper   []float64
	Prune        bool
}

// ParseFloats parses a whitespace-separated list of floats
func ParseFloats(s string) ([]float64, error) {
	parts := strings.Fields(s)
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// ValidateConfig validates tightening configuration
func ValidateConfig(config *Config) error {
	if config.WeightsPath == "" {
		return fmt.Errorf("weights path must be set")
	}

	if config.DefaultBound <= 0 {
		return fmt.Errorf("default bound must be positive")
	}

	if config.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	if len(config.InputLower) != len(config.InputUpper) {
		return fmt.Errorf("input lower and upper bounds must have the same length")
	}

	switch config.Strategy {
	case "sequential", "threads", "dist-fine", "dist-coarse":
	default:
		return fmt.Errorf("strategy must be one of sequential, threads, dist-fine, dist-coarse")
	}

	return nil
}
