//go:build unix

// hook_uart_stream_unix.go - a non-blocking pipe/socket UART sink for
// POSIX targets, grounded on the x/sys/unix idiom for
// non-blocking terminal/IPC writes (see debug_monitor.go's output path),
// generalized here to an arbitrary O_NONBLOCK fd.

package main

import (
	"errors"

	"golang.org/x/sys/unix"
)

// PipeUartSink writes to a file descriptor opened O_NONBLOCK; a write
// that would block (EAGAIN) is treated as backpressure and dropped.
type PipeUartSink struct {
	fd int
}

// NewPipeUartSink wraps an already-open non-blocking file descriptor.
func NewPipeUartSink(fd int) *PipeUartSink {
	return &PipeUartSink{fd: fd}
}

// TrySend implements UartSink.
func (s *PipeUartSink) TrySend(data []byte) bool {
	for len(data) > 0 {
		n, err := unix.Write(s.fd, data)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return false
			}
			return false
		}
		data = data[n:]
	}
	return true
}
