// config.go - executor configuration.

package main

import "fmt"

// ShaderMode selects how the shader loader resolves a named shader.
type ShaderMode int

const (
	ShaderModeAuto ShaderMode = iota
	ShaderModeBinary
	ShaderModeSource
)

func (m ShaderMode) String() string {
	switch m {
	case ShaderModeBinary:
		return "binary"
	case ShaderModeSource:
		return "source"
	default:
		return "auto"
	}
}

// ParseShaderMode parses the -shader-mode flag value.
func ParseShaderMode(s string) (ShaderMode, error) {
	switch s {
	case "auto", "":
		return ShaderModeAuto, nil
	case "binary":
		return ShaderModeBinary, nil
	case "source":
		return ShaderModeSource, nil
	default:
		return ShaderModeAuto, fmt.Errorf("config: unknown shader mode %q", s)
	}
}

// VMConfig carries every configuration input the executor needs.
type VMConfig struct {
	RAMSize      int
	HeatSlots    int
	WindowCycles int
	CycleBudget  int
	GpuTimeoutMs int
	ShaderMode   ShaderMode
	ShaderDir    string
	BinaryDir    string
}

// DefaultVMConfig returns the out-of-the-box configuration:
// 16 MiB RAM, 1024 heat slots, a 4096-cycle dispatch window, a 1 second
// GPU timeout, and auto shader resolution.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		RAMSize:      DefaultRAMSize,
		HeatSlots:    DefaultHeatSlots,
		WindowCycles: 4096,
		CycleBudget:  1 << 30,
		GpuTimeoutMs: 1000,
		ShaderMode:   ShaderModeAuto,
		ShaderDir:    "shaders",
		BinaryDir:    "shaders/spirv",
	}
}

// Validate checks the invariants placed on RAM_SIZE and the
// other sizing inputs.
func (c VMConfig) Validate() error {
	if c.RAMSize <= 0 || c.RAMSize%4 != 0 || c.RAMSize&(c.RAMSize-1) != 0 {
		return fmt.Errorf("config: RAM_SIZE %d must be a positive power of two multiple of 4", c.RAMSize)
	}
	if c.RAMSize < 1<<20 {
		return fmt.Errorf("config: RAM_SIZE %d is below the 1 MiB minimum", c.RAMSize)
	}
	if c.HeatSlots < 0 {
		return fmt.Errorf("config: HEAT_SLOTS %d must be non-negative", c.HeatSlots)
	}
	if c.WindowCycles <= 0 {
		return fmt.Errorf("config: WINDOW_CYCLES %d must be positive", c.WindowCycles)
	}
	if c.CycleBudget <= 0 {
		return fmt.Errorf("config: CYCLE_BUDGET %d must be positive", c.CycleBudget)
	}
	if c.GpuTimeoutMs < 0 {
		return fmt.Errorf("config: GPU_TIMEOUT_MS %d must be non-negative", c.GpuTimeoutMs)
	}
	return nil
}
