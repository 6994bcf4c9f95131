//go:build !unix

// uart_sink_open_other.go - portable fallback for -uart-sink: a plain
// file opened for append, fed through the bounded-channel sink instead
// of a non-blocking fd (no POSIX O_NONBLOCK semantics off unix).

package main

import "os"

func openUartSink(path string) (UartSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return NewChannelUartSink(64, func(b []byte) {
		f.Write(b)
	}), nil
}
