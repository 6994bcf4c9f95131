//go:build !(amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm)

package main

// The Vulkan backend copies the VM image and its push constant through
// unsafe.Pointer in host byte order, which assumes little-endian.
var _ = "this VM requires a little-endian architecture" + 1
