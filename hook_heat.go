// hook_heat.go - maintains a cumulative PC-bucket histogram and forwards
// each window's delta over a streaming sink.

package main

import "sync"

// HeatSink receives one framed heat message for each dispatch window whose
// buckets changed; fileHeatSink (heat_sink_open.go) defines the wire format.
type HeatSink interface {
	SendHeat(cyclesTotal uint64, deltas []HeatDelta)
}

// HeatDelta is one pc-bucket -> count-added pair.
type HeatDelta struct {
	PCBucket uint32
	Count    uint32
}

// HeatHook accumulates a cumulative histogram and forwards each window's
// non-zero deltas to an installed sink.
type HeatHook struct {
	mu   sync.Mutex
	hist []uint32
	sink HeatSink
}

// NewHeatHook creates a hook tracking slots counters, matching the VM's
// configured HEAT_SLOTS.
func NewHeatHook(slots int) *HeatHook {
	return &HeatHook{hist: make([]uint32, slots)}
}

// SetSink attaches the sink this hook forwards deltas to.
func (h *HeatHook) SetSink(s HeatSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

// Snapshot returns a copy of the cumulative histogram.
func (h *HeatHook) Snapshot() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint32, len(h.hist))
	copy(out, h.hist)
	return out
}

// Observe implements Hook: it diffs w.HeatDelta (a full counter snapshot
// from VMState) against the cumulative histogram and forwards only the
// buckets that changed this window.
func (h *HeatHook) Observe(w *ObservationWindow) {
	if len(w.HeatDelta) == 0 {
		return
	}
	h.mu.Lock()
	var deltas []HeatDelta
	for i, v := range w.HeatDelta {
		if i >= len(h.hist) {
			break
		}
		if v != h.hist[i] {
			deltas = append(deltas, HeatDelta{PCBucket: uint32(i), Count: v - h.hist[i]})
			h.hist[i] = v
		}
	}
	sink := h.sink
	h.mu.Unlock()

	if sink != nil && len(deltas) > 0 {
		sink.SendHeat(w.CyclesTotal, deltas)
	}
}
