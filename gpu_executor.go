// gpu_executor.go - shared executor protocol: config, results, the
// bounded dispatch-window loop shape.
//
// Two backends implement Backend below: gpu_executor_vulkan.go drives an
// actual compute pipeline; gpu_executor_software.go runs the identical
// semantics as a plain Go loop, calling Step directly. The dispatch loop
// itself (run()) is backend-agnostic and lives here, grounded on the
// same submit/fence-wait/readback rhythm as a frame-rendering loop, but
// generalized from per-frame rendering to per-window VM advancement.

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TerminationReason records why run() stopped.
type TerminationReason int

const (
	TerminationNone TerminationReason = iota
	TerminationHalted
	TerminationCycleLimit
	TerminationCancelled
)

func (r TerminationReason) String() string {
	switch r {
	case TerminationHalted:
		return "Halted"
	case TerminationCycleLimit:
		return "CycleLimitReached"
	case TerminationCancelled:
		return "Cancelled"
	default:
		return "None"
	}
}

// ExecutionResult is the result surface of run().
type ExecutionResult struct {
	CyclesExecuted   uint64
	ExitCode         int32
	UartOutput       string
	Trap             *TrapCause
	UartDroppedBytes uint64
	Termination      TerminationReason
}

// ExecutorError is the distinct error surface reserved for executor
// failures (as opposed to VM traps, which are data in ExecutionResult).
type ExecutorError struct {
	Kind string // "GpuTimeout", "ShaderCompile", "Poisoned", "ResourceExhausted", "NotExecutable"
	Msg  string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor: %s: %s", e.Kind, e.Msg)
}

var errPoisoned = &ExecutorError{Kind: "Poisoned", Msg: "executor experienced a prior GpuTimeout; call reset() first"}

// Backend is what a dispatch-window implementation must provide: advance
// the VM state by up to windowCycles cycles, blocking until the
// submission completes or ctx is done. Implementations must honor the
// "one sequential writer" discipline themselves; the loop
// here only orchestrates windows and readback.
type Backend interface {
	// DispatchWindow advances state by up to windowCycles cycles (fewer
	// if halted sooner), returning once complete or ctx's deadline fires.
	DispatchWindow(ctx context.Context, state *VMState, windowCycles uint64) error
	// Close releases backend-owned resources (GPU buffers, pipelines).
	Close() error
}

// Executor owns one VM instance's state, its dispatch backend, cycle
// budget/window configuration, and an installed observation hook.
type Executor struct {
	backend Backend
	state   *VMState

	windowCycles uint64
	cycleBudget  uint64
	gpuTimeout   time.Duration

	hooks    *HookBroadcaster
	poisoned bool

	lastSeenUartHead uint32

	// shaderSource holds a wgsl-source cartridge's decoded text, staged
	// for the shader loader rather than written into VM RAM. Nil for an
	// ordinary riscv32 cartridge.
	shaderSource *ShaderSource
}

// NewExecutor allocates an Executor bound to the given backend and
// config. The backend is expected to already own whatever device/queue
// handles it needs; NewExecutor does not touch GPU resources itself.
func NewExecutor(backend Backend, cfg VMConfig) (*Executor, error) {
	state, err := NewVMState(cfg.RAMSize, cfg.HeatSlots)
	if err != nil {
		return nil, err
	}
	return &Executor{
		backend:      backend,
		state:        state,
		windowCycles: uint64(cfg.WindowCycles),
		cycleBudget:  uint64(cfg.CycleBudget),
		gpuTimeout:   time.Duration(cfg.GpuTimeoutMs) * time.Millisecond,
	}, nil
}

// SetHooks installs the observation-hook broadcaster to receive each
// dispatch window's UART bytes, heat delta, and PC/cycle snapshot.
func (e *Executor) SetHooks(b *HookBroadcaster) {
	e.hooks = b
}

// WithMaxCycles overrides the configured cycle budget.
func (e *Executor) WithMaxCycles(n uint64) {
	e.cycleBudget = n
}

// LoadProgram decodes the cartridge at path and uploads its code into VM
// state. A cartridge tagged with the wgsl-source architecture carries WGSL
// text rather than RV32 machine code: its word stream is decoded the same
// way but staged as a ShaderSource for the shader loader instead of being
// written into RAM.
func (e *Executor) LoadProgram(path string) error {
	if e.poisoned {
		return errPoisoned
	}
	prog, err := LoadCartridge(path)
	if err != nil {
		return err
	}
	if prog.Architecture == ArchitectureWGSLSource {
		e.shaderSource = wgslShaderSource(path, prog.Code)
		e.lastSeenUartHead = 0
		return nil
	}
	if err := e.state.LoadProgram(prog.EntryPoint, prog.Code); err != nil {
		return err
	}
	e.shaderSource = nil
	e.lastSeenUartHead = 0
	return nil
}

// ShaderSource returns the wgsl-source cartridge staged by the most recent
// LoadProgram call, or nil if the loaded cartridge was ordinary riscv32
// code.
func (e *Executor) ShaderSource() *ShaderSource {
	return e.shaderSource
}

// wgslShaderSource reinterprets a decoded cartridge word stream as
// little-endian UTF-8 bytes, trimming the zero padding LoadCartridge
// otherwise trims by word, down to the last non-NUL byte.
func wgslShaderSource(path string, code []uint32) *ShaderSource {
	buf := make([]byte, len(code)*4)
	for i, w := range code {
		buf[i*4+0] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &ShaderSource{Name: name, Text: string(buf[:end])}
}

// Reset clears mutable VM state and lifts poisoning, keeping buffers.
func (e *Executor) Reset() {
	e.state.Reset()
	e.poisoned = false
	e.lastSeenUartHead = 0
	e.shaderSource = nil
}

// Run drives the bounded dispatch-window loop until the
// VM halts, the cycle budget is exhausted, ctx is cancelled, or a GPU
// timeout poisons the executor.
func (e *Executor) Run(ctx context.Context) (ExecutionResult, error) {
	if e.poisoned {
		return ExecutionResult{}, errPoisoned
	}
	if e.shaderSource != nil {
		return ExecutionResult{}, &ExecutorError{Kind: "NotExecutable", Msg: fmt.Sprintf("%q is a wgsl-source cartridge staged for the shader loader, not a runnable riscv32 program", e.shaderSource.Name)}
	}

	var uartOut []byte
	termination := TerminationNone

	for {
		select {
		case <-ctx.Done():
			termination = TerminationCancelled
		default:
		}
		if termination == TerminationCancelled {
			break
		}

		exec := e.state.Exec()
		remaining := uint64(0)
		if e.cycleBudget > exec.Cycles() {
			remaining = e.cycleBudget - exec.Cycles()
		}
		window := e.windowCycles
		if remaining < window {
			window = remaining
		}
		if window == 0 {
			termination = TerminationCycleLimit
			break
		}

		dispatchCtx := ctx
		var cancel context.CancelFunc
		if e.gpuTimeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(ctx, e.gpuTimeout)
		}
		err := e.backend.DispatchWindow(dispatchCtx, e.state, window)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				// Cancelled during a window: report it like a cancel seen
				// between windows rather than as a backend failure.
				termination = TerminationCancelled
				break
			}
			e.poisoned = true
			if errors.Is(err, context.DeadlineExceeded) {
				return ExecutionResult{}, &ExecutorError{Kind: "GpuTimeout", Msg: err.Error()}
			}
			return ExecutionResult{}, &ExecutorError{Kind: "ResourceExhausted", Msg: err.Error()}
		}

		exec = e.state.Exec()
		if exec.Halt != 0 {
			termination = TerminationHalted
			e.drainWindow(&uartOut, termination)
			break
		}
		if exec.Cycles() >= e.cycleBudget {
			termination = TerminationCycleLimit
			e.drainWindow(&uartOut, termination)
			break
		}
		e.drainWindow(&uartOut, TerminationNone)
	}

	if termination == TerminationNone || termination == TerminationCancelled {
		e.drainWindow(&uartOut, termination)
	}

	exec := e.state.Exec()
	result := ExecutionResult{
		CyclesExecuted:   exec.Cycles(),
		ExitCode:         exec.ExitCode,
		UartOutput:       string(uartOut),
		UartDroppedBytes: e.state.UartDroppedBytes(),
		Termination:      termination,
	}
	if cause := TrapCause(exec.TrapCause); cause != TrapNone {
		result.Trap = &cause
	}
	return result, nil
}

// drainWindow pulls newly available UART bytes, heat deltas, and a
// register snapshot out of VM state and fans them out through the
// installed hook broadcaster.
func (e *Executor) drainWindow(uartOut *[]byte, termination TerminationReason) {
	bytes := e.state.DrainUART()
	if len(bytes) > 0 {
		*uartOut = append(*uartOut, bytes...)
	}
	exec := e.state.Exec()
	if e.hooks == nil {
		return
	}
	reason := WindowContinuing
	switch termination {
	case TerminationHalted:
		reason = WindowReason{Kind: WindowHalted, Cause: TrapCause(exec.TrapCause)}
	case TerminationCycleLimit:
		reason = WindowReason{Kind: WindowCycleLimit}
	}
	window := ObservationWindow{
		PC:          exec.PC,
		CyclesTotal: exec.Cycles(),
		Regs:        e.state.RegSnapshot(),
		UartBytes:   bytes,
		Reason:      reason,
	}
	if exec.HeatDirty > 0 {
		window.HeatDelta = e.state.HeatSnapshot()
	}
	e.hooks.Observe(&window)
}
