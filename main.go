// main.go - command-line front end: flags, executor wiring, hook
// installation, termination reporting. Grounded on the reference
// main.go boot sequence (peripheral construction, I/O region mapping,
// then a single blocking run), generalized from a fixed CPU+sound+
// video boot to a configurable GPU-resident VM boot.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"
)

func boilerPlate() {
	fmt.Println("rv32gpu - a GPU-resident RV32IMFD virtual machine")
}

func main() {
	cfg := DefaultVMConfig()

	var (
		cartridge     = flag.String("cartridge", "", "path to a .rts.png cartridge (required)")
		ramSize       = flag.Int("ram", cfg.RAMSize, "RAM region size in bytes (power of two, >= 1 MiB)")
		heatSlots     = flag.Int("heat-slots", cfg.HeatSlots, "instruction heat-histogram width")
		windowCycles  = flag.Int("window", cfg.WindowCycles, "cycles dispatched per GPU submission")
		cycleBudget   = flag.Int("cycles", cfg.CycleBudget, "total cycle budget before forced termination")
		gpuTimeoutMs  = flag.Int("gpu-timeout", cfg.GpuTimeoutMs, "milliseconds to wait for one dispatch window before poisoning the executor (0 disables)")
		shaderModeStr = flag.String("shader-mode", cfg.ShaderMode.String(), "shader resolution: auto, binary, or source")
		shaderDir     = flag.String("shader-dir", cfg.ShaderDir, "directory of WGSL compute shader sources")
		spirvDir      = flag.String("spirv-dir", cfg.BinaryDir, "directory of precompiled SPIR-V binaries")
		asciiSceneDir = flag.String("ascii-scene-dir", "", "write a rolling textual VM snapshot under this directory (disabled if empty)")
		uartSinkPath  = flag.String("uart-sink", "", "path to a non-blocking FIFO/pipe to stream UART output to (disabled if empty)")
		heatSinkPath  = flag.String("heat-sink", "", "path to write framed PC-heat messages to (disabled if empty)")
		headless      = flag.Bool("headless", false, "force the software backend instead of Vulkan")
	)
	flag.Parse()

	boilerPlate()

	if *cartridge == "" {
		fmt.Fprintln(os.Stderr, "rv32gpu: -cartridge is required")
		flag.Usage()
		os.Exit(1)
	}

	shaderMode, err := ParseShaderMode(*shaderModeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: %v\n", err)
		os.Exit(1)
	}

	cfg.RAMSize = *ramSize
	cfg.HeatSlots = *heatSlots
	cfg.WindowCycles = *windowCycles
	cfg.CycleBudget = *cycleBudget
	cfg.GpuTimeoutMs = *gpuTimeoutMs
	cfg.ShaderMode = shaderMode
	cfg.ShaderDir = *shaderDir
	cfg.BinaryDir = *spirvDir

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: %v\n", err)
		os.Exit(1)
	}

	backend, err := newBackend(cfg, *headless)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: failed to initialize backend: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	exec, err := NewExecutor(backend, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: failed to allocate VM state: %v\n", err)
		os.Exit(1)
	}

	if err := exec.LoadProgram(*cartridge); err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: failed to load cartridge: %v\n", err)
		os.Exit(1)
	}

	exec.SetHooks(buildHooks(cfg, *asciiSceneDir, *uartSinkPath, *heatSinkPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := exec.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv32gpu: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("termination=%s cycles=%d elapsed=%s\n", result.Termination, result.CyclesExecuted, time.Since(start))
	if result.Trap != nil {
		fmt.Printf("trap=%s\n", *result.Trap)
	}
	if result.UartDroppedBytes > 0 {
		fmt.Printf("uart dropped %d bytes under backpressure\n", result.UartDroppedBytes)
	}
	if result.UartOutput != "" {
		fmt.Print(result.UartOutput)
	}

	os.Exit(int(result.ExitCode))
}

// newBackend returns the software backend when -headless is set,
// otherwise initializes the Vulkan compute backend.
func newBackend(cfg VMConfig, headless bool) (Backend, error) {
	if headless {
		return NewSoftwareBackend(), nil
	}
	imageWords := ImageSize(cfg.RAMSize, cfg.HeatSlots) / 4
	vb, err := NewVulkanBackend(cfg, "rv32_step", imageWords)
	if err != nil {
		return nil, err
	}
	return vb, nil
}

// buildHooks wires the observation broadcaster together: the ASCII
// scene renderer, UART sink, and heat sink are each optional, installed
// only when their directory/path flags are non-empty; reported hook
// errors go to stderr rather than aborting the run.
func buildHooks(cfg VMConfig, asciiSceneDir, uartSinkPath, heatSinkPath string) *HookBroadcaster {
	b := NewHookBroadcaster(func(label string, err error) {
		fmt.Fprintf(os.Stderr, "rv32gpu: hook %q: %v\n", label, err)
	})

	if asciiSceneDir != "" {
		b.Register("ascii-scene", NewAsciiSceneHook(asciiSceneDir, 256, func(err error) {
			fmt.Fprintf(os.Stderr, "rv32gpu: ascii-scene hook: %v\n", err)
		}))
	}

	if uartSinkPath != "" {
		stream := NewUartStreamHook()
		if sink, err := openUartSink(uartSinkPath); err != nil {
			fmt.Fprintf(os.Stderr, "rv32gpu: uart-sink: %v\n", err)
		} else {
			stream.SetSink(sink)
		}
		b.Register("uart-stream", stream)
	}

	if heatSinkPath != "" {
		heat := NewHeatHook(cfg.HeatSlots)
		if sink, err := openHeatSink(heatSinkPath); err != nil {
			fmt.Fprintf(os.Stderr, "rv32gpu: heat-sink: %v\n", err)
		} else {
			heat.SetSink(sink)
		}
		b.Register("heat", heat)
	}

	return b
}
