// bigm-worker: Remote solve worker for distributed bound tightening
//
// Usage:
//
//	bigm-worker --listen=:9400
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/golang/glog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"bigm_lib/dist"
)

var (
	listenAddr = flag.String("listen", ":9400", "TCP address to accept coordinator connections on")
	verbose    = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if *verbose {
		printHostInfo()
	}

	if err := dist.ListenAndServe(*listenAddr); err != nil {
		glog.Flush()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// printHostInfo reports what the coordinator is renting: useful when sizing
// a distributed run across heterogeneous machines.
func printHostInfo() {
	fmt.Printf("Worker starting on %s (%d logical CPUs)\n", *listenAddr, runtime.NumCPU())

	if info, err := host.Info(); err == nil {
		fmt.Printf("  Host: %s (%s %s)\n", info.Hostname, info.Platform, info.PlatformVersion)
	}
	if counts, err := cpu.Counts(true); err == nil {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			fmt.Printf("  CPU:  %s, %d threads\n", infos[0].ModelName, counts)
		} else {
			fmt.Printf("  CPU:  %d threads\n", counts)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("  Mem:  %.1f GiB total, %.1f%% used\n",
			float64(vm.Total)/(1<<30), vm.UsedPercent)
	}
}
