// cartridge_constants.go - defaults for the .rts.png cartridge format.

package main

const (
	// DefaultEntryPoint is the entry point assumed when a cartridge has no
	// sidecar metadata or the sidecar omits entry_point.
	DefaultEntryPoint uint32 = RAMBase

	// DefaultArchitecture is the assumed architecture tag when a sidecar
	// is absent or omits architecture.
	DefaultArchitecture = "riscv32"

	// ArchitectureWGSLSource marks a cartridge whose decoded word stream is
	// not RV32 machine code but UTF-8 WGSL shader source, packed the same
	// way (a supplement beyond the base riscv32 cartridge format).
	ArchitectureWGSLSource = "wgsl-source"

	// sidecarSuffix is appended to a cartridge's path stem (after
	// stripping its extension) to find the optional metadata file.
	sidecarSuffix = ".json"
)
