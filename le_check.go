//go:build amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm

// le_check.go - this VM requires a little-endian host architecture.
//
// The cartridge format, exec-control block, and GPU buffer layouts are all
// defined little-endian (see vm_state.go), and the Vulkan backend copies
// mapped buffer memory and its push constant through unsafe.Pointer in
// host byte order. This file
// compiles on known LE targets; the sibling file be_unsupported.go contains
// a deliberate compile error for any architecture not listed here.

package main
