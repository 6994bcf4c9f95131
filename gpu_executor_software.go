// gpu_executor_software.go - pure-Go Backend, exercising exactly the same
// VMState transitions a compute shader dispatch would, one instruction at
// a time via Step. Grounded on the same plain-interpreter fallback idiom as
// path (voodoo_software.go's CPU-only render loop standing in for the GPU
// pipeline when no device is available), adapted here from pixel-by-pixel
// rasterization to instruction-by-instruction VM stepping.

package main

import "context"

// SoftwareBackend implements Backend by calling Step in a loop, with no
// GPU device, queue, or shader module involved. It is the executor used
// throughout this module's own tests and is a legitimate standalone
// backend for hosts without a compute-capable GPU.
type SoftwareBackend struct{}

// NewSoftwareBackend constructs a SoftwareBackend. It owns no resources.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{}
}

// DispatchWindow advances state by up to windowCycles instructions,
// stopping early if the VM halts or ctx is cancelled mid-window.
func (b *SoftwareBackend) DispatchWindow(ctx context.Context, state *VMState, windowCycles uint64) error {
	for i := uint64(0); i < windowCycles; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		result := Step(state)
		if result.Halted {
			break
		}
	}
	return nil
}

// Close is a no-op: SoftwareBackend owns no GPU resources.
func (b *SoftwareBackend) Close() error { return nil }
