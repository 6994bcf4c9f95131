//go:build unix

// uart_sink_open_unix.go - opens the -uart-sink path as a non-blocking
// POSIX fd, backing PipeUartSink (hook_uart_stream_unix.go).

package main

import "golang.org/x/sys/unix"

func openUartSink(path string) (UartSink, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return NewPipeUartSink(fd), nil
}
