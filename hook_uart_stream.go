// hook_uart_stream.go - forwards UART bytes to an externally supplied,
// bounded, non-blocking sink; backpressure drops bytes and counts them.
//
// The sink interface mirrors a non-blocking terminal/IPC
// writes (see hook_uart_stream_unix.go, grounded on its x/sys/unix use)
// but is established lazily: a hook with no sink attached is simply a
// no-op.

package main

import "sync"

// UartSink is a send-only capability to an external byte consumer.
// TrySend must not block; it returns false if the byte range was
// dropped due to backpressure.
type UartSink interface {
	TrySend(data []byte) bool
}

// ChannelUartSink is the portable fallback sink: a bounded channel
// drained by a background goroutine. Sends that would block are
// dropped rather than buffered further, matching the "drop with
// counter" contract.
type ChannelUartSink struct {
	ch chan []byte
}

// NewChannelUartSink starts a sink with the given queue depth, delivering
// each accepted chunk to consume from a background goroutine.
func NewChannelUartSink(depth int, consume func([]byte)) *ChannelUartSink {
	s := &ChannelUartSink{ch: make(chan []byte, depth)}
	go func() {
		for data := range s.ch {
			consume(data)
		}
	}()
	return s
}

// TrySend implements UartSink.
func (s *ChannelUartSink) TrySend(data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.ch <- buf:
		return true
	default:
		return false
	}
}

// UartStreamHook forwards each window's UART bytes to an installed sink.
type UartStreamHook struct {
	mu           sync.Mutex
	sink         UartSink
	droppedBytes uint64
}

// NewUartStreamHook creates a hook with no sink attached; it is a no-op
// until SetSink is called.
func NewUartStreamHook() *UartStreamHook {
	return &UartStreamHook{}
}

// SetSink attaches (or replaces) the sink this hook forwards to.
func (h *UartStreamHook) SetSink(s UartSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

// DroppedBytes reports the cumulative count of bytes dropped due to
// sink backpressure.
func (h *UartStreamHook) DroppedBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.droppedBytes
}

// Async implements AsyncObserver: forwarding bytes to a non-blocking sink
// never touches shared VM state and is safe to run concurrently with
// slower hooks (the ASCII scene hook's file writes, in particular).
func (h *UartStreamHook) Async() bool { return true }

// Observe implements Hook.
func (h *UartStreamHook) Observe(w *ObservationWindow) {
	if len(w.UartBytes) == 0 {
		return
	}
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return
	}
	if !sink.TrySend(w.UartBytes) {
		h.mu.Lock()
		h.droppedBytes += uint64(len(w.UartBytes))
		h.mu.Unlock()
	}
}
