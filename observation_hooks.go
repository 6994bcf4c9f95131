// observation_hooks.go - per-window observation fan-out.
//
// A Hook is invoked once per dispatch window with fresh UART/heat/PC
// data. The broadcaster holds an ordered list of hooks, in the style of
// a MachineMonitor-style CPU registry (a stable, ordered list with
// per-entry isolation so one misbehaving entry cannot break the others),
// adapted here from a debugger's CPU-entry list to a hook-entry list.

package main

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WindowReasonKind classifies why a dispatch window ended.
type WindowReasonKind int

const (
	WindowReasonContinuing WindowReasonKind = iota
	WindowReasonHalted
	WindowReasonCycleLimit
)

// WindowReason carries the classification plus, for Halted, the trap
// cause (TrapNone if termination was a plain exit).
type WindowReason struct {
	Kind  WindowReasonKind
	Cause TrapCause
}

var WindowContinuing = WindowReason{Kind: WindowReasonContinuing}

const (
	WindowHalted     = WindowReasonHalted
	WindowCycleLimit = WindowReasonCycleLimit
)

// ObservationWindow is the transient per-window record delivered to
// every hook; hooks must not retain its slices past
// the call.
type ObservationWindow struct {
	PC          uint32
	CyclesTotal uint64
	Regs        [32]uint32
	UartBytes   []byte
	HeatDelta   []uint32
	Reason      WindowReason
}

// Hook is the minimal capability every observer implements.
type Hook interface {
	Observe(w *ObservationWindow)
}

// AsyncObserver is an optional capability a Hook implements to opt out of
// the broadcaster's default in-order delivery. A hook whose Async()
// returns true is run concurrently with its fellow async hooks (still
// after every synchronous hook has already been invoked in order); use
// this for a hook whose own Observe is already safe to run concurrently
// with itself and with the other hooks, and where blocking the broadcast
// on it would slow down cheaper hooks.
type AsyncObserver interface {
	Async() bool
}

// hookEntry pairs a hook with a label for error reporting and a
// fatal-dropped flag, mirroring a CPUEntry-style stable-ID
// pattern for registry entries that can be individually disabled.
type hookEntry struct {
	label  string
	hook   Hook
	dead   bool
}

// HookBroadcaster fans an ObservationWindow out to every registered hook
// in registration order, isolating each hook's panics/errors so that one
// misbehaving hook cannot mask the others. It is itself a Hook, so
// broadcasters can nest.
type HookBroadcaster struct {
	mu      sync.Mutex
	entries []*hookEntry
	onError func(label string, err error)
}

// NewHookBroadcaster builds an empty broadcaster. onError, if non-nil, is
// called (outside the broadcaster's lock) whenever a hook panics (treated
// as HookFatal, see observeOne); it may be used for logging.
func NewHookBroadcaster(onError func(label string, err error)) *HookBroadcaster {
	return &HookBroadcaster{onError: onError}
}

// Register appends a hook under the given label.
func (b *HookBroadcaster) Register(label string, h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, &hookEntry{label: label, hook: h})
}

// Observe implements Hook, invoking every live registered hook in order,
// except hooks opting into AsyncObserver which are collected and run
// concurrently (via an errgroup, purely for its join-all-and-wait
// semantics — no hook error is expected to cancel the others) once the
// synchronous pass completes.
func (b *HookBroadcaster) Observe(w *ObservationWindow) {
	b.mu.Lock()
	entries := make([]*hookEntry, len(b.entries))
	copy(entries, b.entries)
	b.mu.Unlock()

	var async []*hookEntry
	for _, e := range entries {
		if e.dead {
			continue
		}
		if ao, ok := e.hook.(AsyncObserver); ok && ao.Async() {
			async = append(async, e)
			continue
		}
		b.observeOne(e, w)
	}
	if len(async) == 0 {
		return
	}

	var g errgroup.Group
	for _, e := range async {
		e := e
		g.Go(func() error {
			b.observeOne(e, w)
			return nil
		})
	}
	g.Wait()
}

// observeOne calls a single hook, recovering from a panic (treated as
// HookFatal: the hook is dropped for the remainder of the run) and
// reporting it via onError without aborting the broadcast.
func (b *HookBroadcaster) observeOne(e *hookEntry, w *ObservationWindow) {
	defer func() {
		if r := recover(); r != nil {
			e.dead = true
			if b.onError != nil {
				b.onError(e.label, fmt.Errorf("hook panicked: %v", r))
			}
		}
	}()
	e.hook.Observe(w)
}
