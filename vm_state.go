// vm_state.go - the flat, host<->GPU mirrored layout for one VM instance.
//
// Unlike a host-dispatched MMIO bus, this VM's memory side effects execute
// kernel-side on the GPU. The host never intercepts an individual load or
// store; it only ever sees the buffers below before a dispatch and after
// the fence for that dispatch is signalled. VMState is therefore a plain
// data layout with accessors, not a callback-dispatch bus.

package main

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// DefaultRAMSize is the default RAM region size; must stay a power of
	// two and a multiple of 4.
	DefaultRAMSize = 16 * 1024 * 1024

	// DefaultHeatSlots is the default instruction-histogram width.
	DefaultHeatSlots = 1024

	// UartRingSize is the UART ring buffer capacity; power of two.
	UartRingSize = 4096

	// RAMBase is the linear address RAM offset 0 is mapped to.
	RAMBase = 0x80000000

	// UartTxAddr accepts single-byte writes; each appends to the UART ring.
	UartTxAddr = 0x90000000

	// ExitAddr accepts a single 4-byte write that sets the exit code and
	// the halt flag.
	ExitAddr = 0x90000008

	// HeatBase is the start of the heat-counter MMIO window.
	HeatBase = 0x90001000

	// CSRCount is the number of CSR slots in the dense bank below.
	CSRCount = 10
)

// CSR indices, dense and 0-based in declaration order. Reads of any index
// not named here return zero; writes to them are no-ops. This numbering
// is this implementation's choice where source left the index map open.
const (
	CsrMcycle = iota
	CsrMcycleh
	CsrMinstret
	CsrMinstreth
	CsrMstatus
	CsrMtvec
	CsrMepc
	CsrMcause
	CsrMtval
	CsrFcsr
)

// TrapCause enumerates the VM-internal faults that halt execution. A trap
// is data carried in ExecControl, not a Go error: see run()'s result
// surface.
type TrapCause uint32

const (
	TrapNone TrapCause = iota
	TrapIllegalInstruction
	TrapInstructionFault
	TrapLoadFault
	TrapStoreFault
	TrapLoadMisaligned
	TrapStoreMisaligned
	TrapBreakpoint
	TrapEcallUnhandled
)

func (c TrapCause) String() string {
	switch c {
	case TrapNone:
		return "none"
	case TrapIllegalInstruction:
		return "illegal instruction"
	case TrapInstructionFault:
		return "instruction fault"
	case TrapLoadFault:
		return "load fault"
	case TrapStoreFault:
		return "store fault"
	case TrapLoadMisaligned:
		return "load misaligned"
	case TrapStoreMisaligned:
		return "store misaligned"
	case TrapBreakpoint:
		return "breakpoint"
	case TrapEcallUnhandled:
		return "ecall unhandled"
	default:
		return fmt.Sprintf("trap(%d)", uint32(c))
	}
}

// ExecControl is the compact structure shared host<->GPU: the sole signal
// that a dispatch window had observable effects.
type ExecControl struct {
	PC           uint32
	Halt         uint32 // 0 or 1
	ExitCode     int32
	CyclesLo     uint32
	CyclesHi     uint32
	TrapCause    uint32
	TrapValue    uint32
	UartHead     uint32
	UartTail     uint32
	HeatDirty    uint32
}

// Cycles reassembles the split 64-bit cycle counter.
func (e *ExecControl) Cycles() uint64 {
	return uint64(e.CyclesLo) | (uint64(e.CyclesHi) << 32)
}

// SetCycles splits a 64-bit cycle count back into the lo/hi pair.
func (e *ExecControl) SetCycles(c uint64) {
	e.CyclesLo = uint32(c)
	e.CyclesHi = uint32(c >> 32)
}

// MmioState is the MMIO scratch region: the UART ring, the exit slot (its
// value lives in ExecControl.ExitCode, mirrored here is only the ring and
// heat map), and the heat-map counters.
type MmioState struct {
	uartRing     [UartRingSize]byte
	uartHead     uint32
	uartTail     uint32
	uartDropped  uint64
	heat         []uint32
}

func newMmioState(heatSlots int) *MmioState {
	return &MmioState{heat: make([]uint32, heatSlots)}
}

// PushUART appends one byte to the ring, dropping the oldest byte and
// incrementing the dropped-byte counter if the ring is full. This is the
// "drop oldest" policy chosen over the
// inconsistent source behavior.
func (m *MmioState) PushUART(b byte) {
	next := (m.uartHead + 1) % UartRingSize
	if next == m.uartTail {
		m.uartTail = (m.uartTail + 1) % UartRingSize
		m.uartDropped++
	}
	m.uartRing[m.uartHead] = b
	m.uartHead = next
}

// DrainUART returns and consumes all bytes currently queued in the ring.
func (m *MmioState) DrainUART() []byte {
	if m.uartHead == m.uartTail {
		return nil
	}
	out := make([]byte, 0, UartRingSize)
	for i := m.uartTail; i != m.uartHead; i = (i + 1) % UartRingSize {
		out = append(out, m.uartRing[i])
	}
	m.uartTail = m.uartHead
	return out
}

// DroppedBytes reports the cumulative count of UART bytes dropped due to
// ring overflow.
func (m *MmioState) DroppedBytes() uint64 {
	return m.uartDropped
}

// BumpHeat increments the counter for the given heat slot index, clamping
// silently if the slot is out of range (an unmapped MMIO write is a
// no-op).
func (m *MmioState) BumpHeat(slot int) {
	if slot < 0 || slot >= len(m.heat) {
		return
	}
	m.heat[slot]++
}

// HeatSnapshot returns a copy of the current heat-counter array.
func (m *MmioState) HeatSnapshot() []uint32 {
	out := make([]uint32, len(m.heat))
	copy(out, m.heat)
	return out
}

// VMState is the full host-side mirror of one VM instance's GPU-resident
// state: register file, RAM, CSR bank, MMIO scratch, and exec-control.
// It is not thread-safe to mutate directly from multiple goroutines other
// than the single dispatch loop that owns it; the mutex below exists so
// hooks and the dispatch loop can safely read a consistent snapshot
// concurrently (machine_bus.go guards its register file the
// same way for cross-goroutine debugger reads).
type VMState struct {
	mu sync.RWMutex

	xreg [32]uint32
	freg [32]uint32
	csr  [CSRCount]uint32
	ram  []byte

	mmio *MmioState
	exec ExecControl

	ramSize   int
	heatSlots int
}

// NewVMState allocates a VMState with the given RAM size (bytes, must be a
// power of two and a multiple of 4) and heat-map slot count.
func NewVMState(ramSize, heatSlots int) (*VMState, error) {
	if ramSize <= 0 || ramSize%4 != 0 || ramSize&(ramSize-1) != 0 {
		return nil, fmt.Errorf("vm_state: RAM size %d is not a positive power of two multiple of 4", ramSize)
	}
	if heatSlots < 0 {
		return nil, fmt.Errorf("vm_state: negative heat slot count %d", heatSlots)
	}
	return &VMState{
		ram:       make([]byte, ramSize),
		mmio:      newMmioState(heatSlots),
		ramSize:   ramSize,
		heatSlots: heatSlots,
	}, nil
}

// Reset clears all mutable state back to zero, preserving RAM allocation
// size and heat-slot count (the executor's reset() keeps buffers per
// below).
func (v *VMState) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.xreg = [32]uint32{}
	v.freg = [32]uint32{}
	v.csr = [CSRCount]uint32{}
	for i := range v.ram {
		v.ram[i] = 0
	}
	v.mmio = newMmioState(v.heatSlots)
	v.exec = ExecControl{}
}

// GetReg reads integer register n; register 0 always reads zero.
func (v *VMState) GetReg(n int) uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if n == 0 {
		return 0
	}
	return v.xreg[n]
}

// SetReg writes integer register n; writes to register 0 are silent
// no-ops, preserving the hard-wired-zero invariant.
func (v *VMState) SetReg(n int, val uint32) {
	if n == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.xreg[n] = val
}

// GetFReg reads floating-point register n (bit pattern).
func (v *VMState) GetFReg(n int) uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.freg[n]
}

// SetFReg writes floating-point register n (bit pattern).
func (v *VMState) SetFReg(n int, val uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.freg[n] = val
}

// GetCSR reads CSR index idx; unknown indices (out of CSRCount) always
// read as zero.
func (v *VMState) GetCSR(idx uint32) uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if idx >= CSRCount {
		return 0
	}
	return v.csr[idx]
}

// SetCSR writes CSR index idx; unknown indices are silent no-ops.
func (v *VMState) SetCSR(idx uint32, val uint32) {
	if idx >= CSRCount {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.csr[idx] = val
}

// RAMSize reports the fixed RAM region size in bytes.
func (v *VMState) RAMSize() int {
	return v.ramSize
}

// LoadWord reads a little-endian 32-bit word from RAM at the given
// linear address. Returns false if the address is unmapped or misaligned;
// the caller is responsible for raising the matching trap.
func (v *VMState) LoadWord(addr uint32) (uint32, bool) {
	if addr%4 != 0 {
		return 0, false
	}
	off, ok := v.ramOffset(addr, 4)
	if !ok {
		return 0, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return binary.LittleEndian.Uint32(v.ram[off : off+4]), true
}

// StoreWord writes a little-endian 32-bit word to RAM at the given linear
// address, or dispatches it to MMIO (EXIT, heat counters) if it falls in
// a recognized MMIO range. Returns false on misalignment or an
// out-of-range non-MMIO address.
func (v *VMState) StoreWord(addr uint32, val uint32) bool {
	if addr%4 != 0 {
		return false
	}
	switch {
	case addr == ExitAddr:
		v.mu.Lock()
		v.exec.ExitCode = int32(val)
		v.exec.Halt = 1
		v.mu.Unlock()
		return true
	case addr >= HeatBase && addr < HeatBase+uint32(v.heatSlots)*4:
		slot := int((addr - HeatBase) / 4)
		v.mu.Lock()
		v.mmio.BumpHeat(slot)
		v.exec.HeatDirty++
		v.mu.Unlock()
		return true
	}
	off, ok := v.ramOffset(addr, 4)
	if !ok {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	binary.LittleEndian.PutUint32(v.ram[off:off+4], val)
	return true
}

// LoadByte/StoreByte and the 16-bit variants mirror LoadWord/StoreWord for
// sub-word accesses; UART_TX is checked here since it is a single-byte
// register.
func (v *VMState) LoadByte(addr uint32) (byte, bool) {
	off, ok := v.ramOffset(addr, 1)
	if !ok {
		return 0, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ram[off], true
}

func (v *VMState) StoreByte(addr uint32, val byte) bool {
	if addr == UartTxAddr {
		v.mu.Lock()
		v.mmio.PushUART(val)
		v.exec.UartHead = v.mmio.uartHead
		v.mu.Unlock()
		return true
	}
	off, ok := v.ramOffset(addr, 1)
	if !ok {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ram[off] = val
	return true
}

func (v *VMState) LoadHalf(addr uint32) (uint16, bool) {
	if addr%2 != 0 {
		return 0, false
	}
	off, ok := v.ramOffset(addr, 2)
	if !ok {
		return 0, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return binary.LittleEndian.Uint16(v.ram[off : off+2]), true
}

func (v *VMState) StoreHalf(addr uint32, val uint16) bool {
	if addr%2 != 0 {
		return false
	}
	off, ok := v.ramOffset(addr, 2)
	if !ok {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	binary.LittleEndian.PutUint16(v.ram[off:off+2], val)
	return true
}

// ramOffset translates a linear address into a RAM byte offset, bounds
// checking the access width. Returns false for any address outside the
// RAM window (MMIO ranges are handled by the caller before reaching here).
func (v *VMState) ramOffset(addr uint32, width uint32) (int, bool) {
	if addr < RAMBase {
		return 0, false
	}
	off := uint64(addr) - RAMBase
	if off+uint64(width) > uint64(v.ramSize) {
		return 0, false
	}
	return int(off), true
}

// LoadProgram copies a decoded word stream into RAM starting at the
// address corresponding to entryPoint, zero-filling the remainder, and
// resets the exec-control block to begin execution at entryPoint.
func (v *VMState) LoadProgram(entryPoint uint32, code []uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	start := uint64(entryPoint) - RAMBase
	need := start + uint64(len(code))*4
	if entryPoint < RAMBase || need > uint64(v.ramSize) {
		return fmt.Errorf("vm_state: program of %d words at entry 0x%08x does not fit RAM of size %d", len(code), entryPoint, v.ramSize)
	}
	for i := range v.ram {
		v.ram[i] = 0
	}
	off := start
	for _, w := range code {
		binary.LittleEndian.PutUint32(v.ram[off:off+4], w)
		off += 4
	}
	v.xreg = [32]uint32{}
	v.freg = [32]uint32{}
	v.csr = [CSRCount]uint32{}
	v.mmio = newMmioState(v.heatSlots)
	v.exec = ExecControl{PC: entryPoint}
	return nil
}

// Exec returns a copy of the current exec-control block.
func (v *VMState) Exec() ExecControl {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.exec
}

// SetExec replaces the exec-control block wholesale; used by the
// instruction-semantics executor and by GPU readback.
func (v *VMState) SetExec(e ExecControl) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exec = e
}

// DrainUART returns and clears all bytes queued in the UART ring since the
// last drain.
func (v *VMState) DrainUART() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.mmio.DrainUART()
	v.exec.UartTail = v.mmio.uartTail
	return out
}

// UartDroppedBytes reports the cumulative UART overflow drop count.
func (v *VMState) UartDroppedBytes() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mmio.DroppedBytes()
}

// HeatSnapshot returns a copy of the current heat-counter array and clears
// the dirty counter.
func (v *VMState) HeatSnapshot() []uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exec.HeatDirty = 0
	return v.mmio.HeatSnapshot()
}

// RegSnapshot copies the integer register file, for hooks that render
// register highlights alongside UART/heat observations.
func (v *VMState) RegSnapshot() [32]uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.xreg
}

// ImageSize reports the flat byte image size Image()/LoadImage() use for
// the given RAM size and heat-slot count, without requiring a live
// VMState. Callers sizing a GPU buffer ahead of NewVulkanBackend use this.
func ImageSize(ramSize, heatSlots int) int {
	return 32*4 + 32*4 + CSRCount*4 + execControlWords*4 + UartRingSize + 4 + 4 + 8 + heatSlots*4 + ramSize
}

const execControlWords = 10

// Image serializes the entire VM instance (registers, CSRs, exec-control,
// MMIO scratch, RAM) into one flat little-endian byte buffer of the shape
// a GPU storage buffer mirrors. This is the host<->GPU transfer format: a
// Vulkan backend uploads it verbatim before a dispatch and downloads it
// verbatim after, instead of a host-dispatched callback touching the
// buffer field by field.
func (v *VMState) Image() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()

	buf := make([]byte, ImageSize(v.ramSize, v.heatSlots))
	off := 0
	for i := 0; i < 32; i++ {
		binary.LittleEndian.PutUint32(buf[off:], v.xreg[i])
		off += 4
	}
	for i := 0; i < 32; i++ {
		binary.LittleEndian.PutUint32(buf[off:], v.freg[i])
		off += 4
	}
	for i := 0; i < CSRCount; i++ {
		binary.LittleEndian.PutUint32(buf[off:], v.csr[i])
		off += 4
	}
	off = putExecControl(buf, off, v.exec)
	copy(buf[off:], v.mmio.uartRing[:])
	off += UartRingSize
	binary.LittleEndian.PutUint32(buf[off:], v.mmio.uartHead)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], v.mmio.uartTail)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], v.mmio.uartDropped)
	off += 8
	for i := range v.mmio.heat {
		binary.LittleEndian.PutUint32(buf[off:], v.mmio.heat[i])
		off += 4
	}
	copy(buf[off:], v.ram)
	return buf
}

// LoadImage parses a flat image produced by Image() back into this
// VMState, replacing registers, CSRs, exec-control, MMIO scratch, and RAM
// wholesale. Returns an error if buf's length doesn't match this
// instance's configured RAM size and heat-slot count.
func (v *VMState) LoadImage(buf []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	want := ImageSize(v.ramSize, v.heatSlots)
	if len(buf) != want {
		return fmt.Errorf("vm_state: image is %d bytes, want %d", len(buf), want)
	}
	off := 0
	for i := 0; i < 32; i++ {
		v.xreg[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	for i := 0; i < 32; i++ {
		v.freg[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	for i := 0; i < CSRCount; i++ {
		v.csr[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	v.exec, off = getExecControl(buf, off)
	copy(v.mmio.uartRing[:], buf[off:off+UartRingSize])
	off += UartRingSize
	v.mmio.uartHead = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	v.mmio.uartTail = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	v.mmio.uartDropped = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	for i := range v.mmio.heat {
		v.mmio.heat[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	copy(v.ram, buf[off:])
	return nil
}

// putExecControl/getExecControl (de)serialize ExecControl's fields in a
// fixed order, keeping the wire layout independent of the struct's
// in-memory field order.
func putExecControl(buf []byte, off int, e ExecControl) int {
	fields := []uint32{e.PC, e.Halt, uint32(e.ExitCode), e.CyclesLo, e.CyclesHi, e.TrapCause, e.TrapValue, e.UartHead, e.UartTail, e.HeatDirty}
	for _, f := range fields {
		binary.LittleEndian.PutUint32(buf[off:], f)
		off += 4
	}
	return off
}

func getExecControl(buf []byte, off int) (ExecControl, int) {
	read := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}
	e := ExecControl{}
	e.PC = read()
	e.Halt = read()
	e.ExitCode = int32(read())
	e.CyclesLo = read()
	e.CyclesHi = read()
	e.TrapCause = read()
	e.TrapValue = read()
	e.UartHead = read()
	e.UartTail = read()
	e.HeatDirty = read()
	return e, off
}

// CheckInvariants validates the invariants that must hold at
// all times; intended for use in tests and debug builds, not the hot
// dispatch path.
func (v *VMState) CheckInvariants() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.xreg[0] != 0 {
		return fmt.Errorf("vm_state: invariant violated: xreg[0] = %d, want 0", v.xreg[0])
	}
	if v.exec.Halt != 0 && v.exec.Halt != 1 {
		return fmt.Errorf("vm_state: invariant violated: halt = %d, want 0 or 1", v.exec.Halt)
	}
	if len(v.ram) != v.ramSize {
		return fmt.Errorf("vm_state: invariant violated: ram length %d != RAMSize %d", len(v.ram), v.ramSize)
	}
	return nil
}
