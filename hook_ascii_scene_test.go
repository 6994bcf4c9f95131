package main

import (
	"strings"
	"testing"
)

func TestAsciiSceneRenderIncludesRegHighlights(t *testing.T) {
	h := NewAsciiSceneHook(t.TempDir(), 64, nil)
	w := &ObservationWindow{
		PC:          0x1000,
		CyclesTotal: 42,
		UartBytes:   []byte("hi"),
	}
	w.Regs[1] = 0xdeadbeef  // ra
	w.Regs[2] = 0x0badf00d  // sp
	w.Regs[10] = 0x00000007 // a0

	scene := h.render(w)
	for _, want := range []string{"ra=0xdeadbeef", "sp=0x0badf00d", "a0=0x00000007", "pc=0x00001000"} {
		if !strings.Contains(scene, want) {
			t.Fatalf("render() = %q, want it to contain %q", scene, want)
		}
	}
}
