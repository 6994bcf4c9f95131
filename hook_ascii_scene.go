// hook_ascii_scene.go - renders a compact textual VM snapshot per window.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/term"
)

// AsciiSceneHook writes a human-readable snapshot (PC, cycle count,
// register highlights, last N UART bytes) to a file per tick under Dir,
// plus a "latest" file that is always overwritten with the newest
// snapshot. Failures are logged but never abort the run.
type AsciiSceneHook struct {
	Dir       string
	TailBytes int

	mu      sync.Mutex
	tick    uint64
	uartLog []byte
	onError func(error)
}

// NewAsciiSceneHook creates a hook writing under dir, keeping the last
// tailBytes UART bytes in its rolling snapshot. onError, if non-nil, is
// called with any file-system error this hook swallows.
func NewAsciiSceneHook(dir string, tailBytes int, onError func(error)) *AsciiSceneHook {
	if tailBytes <= 0 {
		tailBytes = 256
	}
	return &AsciiSceneHook{Dir: dir, TailBytes: tailBytes, onError: onError}
}

// Observe renders one snapshot. Each call writes the next tick file and
// appends the window's UART bytes to the rolling tail, so calling it twice
// for the same window writes two tick files and repeats those bytes.
func (h *AsciiSceneHook) Observe(w *ObservationWindow) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.uartLog = append(h.uartLog, w.UartBytes...)
	if len(h.uartLog) > h.TailBytes {
		h.uartLog = h.uartLog[len(h.uartLog)-h.TailBytes:]
	}

	scene := h.render(w)
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		h.report(err)
		return
	}

	tickPath := filepath.Join(h.Dir, fmt.Sprintf("tick-%08d.txt", h.tick))
	if err := os.WriteFile(tickPath, []byte(scene), 0o644); err != nil {
		h.report(err)
	}
	latestPath := filepath.Join(h.Dir, "latest.txt")
	if err := os.WriteFile(latestPath, []byte(scene), 0o644); err != nil {
		h.report(err)
	}
	h.tick++
}

func (h *AsciiSceneHook) render(w *ObservationWindow) string {
	reasonStr := "continuing"
	switch w.Reason.Kind {
	case WindowReasonHalted:
		reasonStr = fmt.Sprintf("halted (%s)", w.Reason.Cause)
	case WindowReasonCycleLimit:
		reasonStr = "cycle limit"
	}
	uartTail := string(h.uartLog)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 && len(uartTail) > width {
			uartTail = uartTail[len(uartTail)-width:]
		}
	}
	return fmt.Sprintf(
		"pc=0x%08x cycles=%d reason=%s\nregs: %s\nuart tail: %q\n",
		w.PC, w.CyclesTotal, reasonStr, renderRegHighlights(w.Regs), uartTail,
	)
}

// renderRegHighlights formats the handful of integer registers most
// useful for a glance at VM state: the return address, stack pointer,
// and the argument/return registers a0-a3, named per the standard
// RISC-V calling-convention ABI names rather than raw x-numbers.
func renderRegHighlights(regs [32]uint32) string {
	return fmt.Sprintf("ra=0x%08x sp=0x%08x a0=0x%08x a1=0x%08x a2=0x%08x a3=0x%08x",
		regs[1], regs[2], regs[10], regs[11], regs[12], regs[13])
}

func (h *AsciiSceneHook) report(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}
