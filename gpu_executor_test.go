package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestCartridge(t *testing.T, code []uint32) string {
	t.Helper()
	img, _, err := EncodeCartridge(code)
	if err != nil {
		t.Fatalf("EncodeCartridge: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.rts.png")
	if err := writeCartridgePNG(path, img); err != nil {
		t.Fatalf("writeCartridgePNG: %v", err)
	}
	return path
}

func newTestExecutor(t *testing.T, cfg VMConfig) *Executor {
	t.Helper()
	exec, err := NewExecutor(NewSoftwareBackend(), cfg)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return exec
}

// Property 9: the executor never reports more cycles executed than the
// configured cycle budget.
func TestExecutorHonorsCycleBudget(t *testing.T) {
	path := writeTestCartridge(t, []uint32{jalAlways(0, 0)}) // infinite self-jump
	cfg := DefaultVMConfig()
	cfg.WindowCycles = 16
	cfg.CycleBudget = 100
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	result, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Termination != TerminationCycleLimit {
		t.Fatalf("Termination = %v, want CycleLimit", result.Termination)
	}
	if result.CyclesExecuted > 100 {
		t.Fatalf("CyclesExecuted = %d, want <= 100", result.CyclesExecuted)
	}
}

// Property 10: once halted, no further windows are dispatched — cycles
// executed must stop advancing at the halting instruction and Run returns
// immediately without additional windows.
func TestExecutorStopsDispatchingAfterHalt(t *testing.T) {
	code := []uint32{
		addi(10, 0, 7),
		addi(17, 0, 0),
		ecall(), // exit syscall halts the VM
		jalAlways(0, 0),
	}
	path := writeTestCartridge(t, code)
	cfg := DefaultVMConfig()
	cfg.WindowCycles = 1 // force many windows if it kept running
	cfg.CycleBudget = 1 << 20
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	result, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Termination != TerminationHalted {
		t.Fatalf("Termination = %v, want Halted", result.Termination)
	}
	if result.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", result.ExitCode)
	}
	if result.CyclesExecuted != 3 {
		t.Fatalf("CyclesExecuted = %d, want 3 (the halting ecall retires like any other instruction)", result.CyclesExecuted)
	}
}

// S5 at the executor level: a tight cycle budget with a program that never
// halts terminates via CycleLimit rather than running forever.
func TestExecutorScenarioCycleLimit(t *testing.T) {
	path := writeTestCartridge(t, []uint32{addi(1, 1, 1), jalAlways(0, -4)}) // tight loop
	cfg := DefaultVMConfig()
	cfg.WindowCycles = 8
	cfg.CycleBudget = 50
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	result, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Termination != TerminationCycleLimit {
		t.Fatalf("Termination = %v, want CycleLimit", result.Termination)
	}
	if result.CyclesExecuted != 50 {
		t.Fatalf("CyclesExecuted = %d, want exactly 50", result.CyclesExecuted)
	}
}

func TestExecutorObservationHooksSeeEveryWindow(t *testing.T) {
	path := writeTestCartridge(t, []uint32{
		addi(10, 0, 1),
		addi(17, 0, 0),
		ecall(),
	})
	cfg := DefaultVMConfig()
	cfg.WindowCycles = 1
	cfg.CycleBudget = 1 << 20
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	rec := &recordingHook{}
	windows := 0
	countHook := Hook(hookFunc(func(w *ObservationWindow) {
		windows++
	}))
	broadcaster := NewHookBroadcaster(nil)
	broadcaster.Register("rec", rec)
	broadcaster.Register("count", countHook)
	exec.SetHooks(broadcaster)

	if _, err := exec.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if windows != 3 {
		t.Fatalf("observed %d windows, want 3 (one per one-cycle window, the last halting)", windows)
	}
}

type hookFunc func(w *ObservationWindow)

func (f hookFunc) Observe(w *ObservationWindow) { f(w) }

func TestExecutorResetClearsPoisonAndState(t *testing.T) {
	path := writeTestCartridge(t, []uint32{
		addi(10, 0, 9),
		addi(17, 0, 0),
		ecall(),
	})
	cfg := DefaultVMConfig()
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if _, err := exec.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	exec.poisoned = true // as a GpuTimeout would leave it
	exec.Reset()
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram after reset: %v", err)
	}
	result, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run after reset: %v", err)
	}
	if result.ExitCode != 9 {
		t.Fatalf("ExitCode after reset = %d, want 9", result.ExitCode)
	}
}

// A wgsl-source cartridge is staged as a ShaderSource instead of being
// written into RAM, and Run refuses to dispatch it as RV32 code.
func TestExecutorStagesWGSLSourceCartridgeInsteadOfRAM(t *testing.T) {
	text := "fn rv32_step() {}"
	words := make([]uint32, (len(text)+3)/4)
	for i := 0; i < len(text); i++ {
		words[i/4] |= uint32(text[i]) << uint((i%4)*8)
	}
	img, _, err := EncodeCartridge(words)
	if err != nil {
		t.Fatalf("EncodeCartridge: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kernel.rts.png")
	if err := writeCartridgePNG(path, img); err != nil {
		t.Fatalf("writeCartridgePNG: %v", err)
	}
	sidecar := `{"architecture": "wgsl-source"}`
	sidecarPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
	if err := os.WriteFile(sidecarPath, []byte(sidecar), 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}

	cfg := DefaultVMConfig()
	exec := newTestExecutor(t, cfg)
	if err := exec.LoadProgram(path); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	src := exec.ShaderSource()
	if src == nil {
		t.Fatal("ShaderSource() = nil, want a staged wgsl-source cartridge")
	}
	if src.IsBinary() {
		t.Fatal("IsBinary() = true, want source text")
	}
	if src.Text != text {
		t.Fatalf("Text = %q, want %q", src.Text, text)
	}

	if _, err := exec.Run(context.Background()); err == nil {
		t.Fatal("Run() with a staged shader source succeeded, want NotExecutable error")
	}
}
