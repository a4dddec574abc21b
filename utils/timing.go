package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TightenStats holds timing and counting information for one tightening run
type TightenStats struct {
	TotalTime   time.Duration
	BuildTime   time.Duration // model construction across all layers
	SolveTime   time.Duration // solver calls across all layers
	LayerTimes  []time.Duration
	Solves      int
	Skips       int
	ModelsBuilt int
	Nodes       int // branch-and-bound nodes across all solves
}

// PrintTightenStats prints detailed statistics for a tightening run.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTightenStats(stats *TightenStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIGHTENING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Bound problems solved: %d\n", stats.Solves)
	fmt.Fprintf(Output, "Bound problems skipped: %d\n", stats.Skips)
	fmt.Fprintf(Output, "Models built: %d\n", stats.ModelsBuilt)
	fmt.Fprintf(Output, "Branch-and-bound nodes: %d\n", stats.Nodes)
	if stats.Solves > 0 {
		fmt.Fprintf(Output, "Average time per solve: %v\n", stats.SolveTime/time.Duration(stats.Solves))
	}
	if stats.TotalTime > 0 {
		fmt.Fprintf(Output, "  Model building: %v (%.1f%%)\n", stats.BuildTime, float64(stats.BuildTime)/float64(stats.TotalTime)*100)
		fmt.Fprintf(Output, "  Solving: %v (%.1f%%)\n", stats.SolveTime, float64(stats.SolveTime)/float64(stats.TotalTime)*100)
	}
	for k, d := range stats.LayerTimes {
		fmt.Fprintf(Output, "  Layer %d: %v\n", k+1, d)
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
