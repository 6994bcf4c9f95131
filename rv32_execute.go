// rv32_execute.go - RV32IMFD instruction execution.
//
// Step advances one VMState by exactly one instruction, following the
// Fetch -> Decode -> Execute -> WritebackOrTrap -> Retire state machine.
// The big opcode switch below keeps cpu_ie32.go's Execute()
// shape (cache PC, fetch fields, switch on opcode, advance PC unless an
// instruction already changed it) generalized from its fixed 8-byte
// custom encoding to the standard RISC-V 32-bit one.

package main

import "math"

// StepResult reports what Step did, for callers (the software executor,
// and tests) that want per-instruction visibility without re-deriving it
// from ExecControl.
type StepResult struct {
	Trapped bool
	Halted  bool
}

// Step fetches, decodes, and executes the instruction at the current PC,
// retiring mcycle/minstret and advancing PC unless the instruction traps
// (an instruction that halts the machine through the EXIT slot still
// retires). It is the host-side reference implementation of the same
// semantics the GPU kernel must provide; the software fallback executor
// (gpu_executor_software.go) calls this directly in place of a shader
// dispatch.
func Step(v *VMState) StepResult {
	exec := v.Exec()
	if exec.Halt != 0 {
		return StepResult{Halted: true}
	}

	pc := exec.PC
	if pc%4 != 0 {
		trap(v, TrapInstructionFault, pc)
		return StepResult{Trapped: true, Halted: true}
	}
	word, ok := v.LoadWord(pc)
	if !ok {
		trap(v, TrapInstructionFault, pc)
		return StepResult{Trapped: true, Halted: true}
	}

	d := Decode(word)
	nextPC := pc + 4
	trapCause := TrapNone
	trapValue := uint32(0)

	switch d.Opcode {
	case OpLui:
		v.SetReg(int(d.Rd), uint32(d.ImmU))

	case OpAuipc:
		v.SetReg(int(d.Rd), pc+uint32(d.ImmU))

	case OpJal:
		v.SetReg(int(d.Rd), nextPC)
		nextPC = pc + uint32(d.ImmJ)

	case OpJalr:
		target := (uint32(int32(v.GetReg(int(d.Rs1)))+d.ImmI)) &^ 1
		v.SetReg(int(d.Rd), nextPC)
		nextPC = target

	case OpBranch:
		taken := evalBranch(v, d)
		if taken {
			nextPC = pc + uint32(d.ImmB)
		}

	case OpLoad:
		trapCause, trapValue = execLoad(v, d)

	case OpStore:
		trapCause, trapValue = execStore(v, d)

	case OpOpImm:
		execOpImm(v, d)

	case OpOp:
		if d.Funct7 == 0x01 {
			execMulDiv(v, d)
		} else {
			execOp(v, d)
		}

	case OpMiscMem:
		// FENCE: no-op, this machine is single-hart sequentially consistent.

	case OpSystem:
		switch d.Funct3 {
		case 0:
			if d.ImmI == 0 {
				doEcall(v)
				if TrapCause(v.Exec().TrapCause) != TrapNone {
					// An unhandled syscall number trapped inside doEcall; like
					// any other trap it neither retires nor advances PC.
					return StepResult{Trapped: true, Halted: true}
				}
			} else if d.ImmI == 1 {
				trap(v, TrapBreakpoint, pc)
				return StepResult{Trapped: true, Halted: true}
			}
		default:
			// CSR instructions (Zicsr) are not part of the supported surface; treat
			// as illegal so unsupported encodings surface cleanly.
			trapCause, trapValue = TrapIllegalInstruction, word
		}

	case OpLoadFP:
		trapCause, trapValue = execLoadFP(v, d)

	case OpStoreFP:
		trapCause, trapValue = execStoreFP(v, d)

	case OpOpFP:
		if c := execOpFP(v, d); c != TrapNone {
			trapCause, trapValue = c, word
		}

	case OpFMAdd, OpFMSub, OpFNMSub, OpFNMAdd:
		rs3 := d.Funct7 >> 2
		if c := execFMAddFamily(v, d, rs3, d.Opcode); c != TrapNone {
			trapCause, trapValue = c, word
		}

	default:
		trapCause, trapValue = TrapIllegalInstruction, word
	}

	if trapCause != TrapNone {
		trap(v, trapCause, trapValue)
		return StepResult{Trapped: true, Halted: true}
	}

	exec = v.Exec()
	if exec.Halt != 0 {
		// A memory-mapped EXIT write during this instruction halted the
		// machine; PC and counters still retire below.
		exec.PC = nextPC
		retire(v, &exec)
		v.SetExec(exec)
		return StepResult{Halted: true}
	}

	exec.PC = nextPC
	retire(v, &exec)
	v.SetExec(exec)
	return StepResult{}
}

// trap records a trap cause/value in ExecControl and sets the halt flag.
func trap(v *VMState, cause TrapCause, value uint32) {
	exec := v.Exec()
	exec.TrapCause = uint32(cause)
	exec.TrapValue = value
	exec.Halt = 1
	v.SetExec(exec)
}

// retire increments mcycle/minstret (and their high halves) by one,
// mirroring them into the CSR bank and the exec-control cycle counter.
func retire(v *VMState, exec *ExecControl) {
	cycles := exec.Cycles() + 1
	exec.SetCycles(cycles)

	instret := uint64(v.GetCSR(CsrMinstret)) | uint64(v.GetCSR(CsrMinstreth))<<32
	instret++
	v.SetCSR(CsrMinstret, uint32(instret))
	v.SetCSR(CsrMinstreth, uint32(instret>>32))
	v.SetCSR(CsrMcycle, uint32(cycles))
	v.SetCSR(CsrMcycleh, uint32(cycles>>32))
}

func evalBranch(v *VMState, d Decoded) bool {
	a := v.GetReg(int(d.Rs1))
	b := v.GetReg(int(d.Rs2))
	switch d.Funct3 {
	case 0: // BEQ
		return a == b
	case 1: // BNE
		return a != b
	case 4: // BLT
		return int32(a) < int32(b)
	case 5: // BGE
		return int32(a) >= int32(b)
	case 6: // BLTU
		return a < b
	case 7: // BGEU
		return a >= b
	}
	return false
}

func execLoad(v *VMState, d Decoded) (TrapCause, uint32) {
	addr := uint32(int32(v.GetReg(int(d.Rs1))) + d.ImmI)
	switch d.Funct3 {
	case 0: // LB
		b, ok := v.LoadByte(addr)
		if !ok {
			return TrapLoadFault, addr
		}
		v.SetReg(int(d.Rd), uint32(int32(int8(b))))
	case 1: // LH
		if addr%2 != 0 {
			return TrapLoadMisaligned, addr
		}
		h, ok := v.LoadHalf(addr)
		if !ok {
			return TrapLoadFault, addr
		}
		v.SetReg(int(d.Rd), uint32(int32(int16(h))))
	case 2: // LW
		if addr%4 != 0 {
			return TrapLoadMisaligned, addr
		}
		w, ok := v.LoadWord(addr)
		if !ok {
			return TrapLoadFault, addr
		}
		v.SetReg(int(d.Rd), w)
	case 4: // LBU
		b, ok := v.LoadByte(addr)
		if !ok {
			return TrapLoadFault, addr
		}
		v.SetReg(int(d.Rd), uint32(b))
	case 5: // LHU
		if addr%2 != 0 {
			return TrapLoadMisaligned, addr
		}
		h, ok := v.LoadHalf(addr)
		if !ok {
			return TrapLoadFault, addr
		}
		v.SetReg(int(d.Rd), uint32(h))
	default:
		return TrapIllegalInstruction, d.Raw
	}
	return TrapNone, 0
}

func execStore(v *VMState, d Decoded) (TrapCause, uint32) {
	addr := uint32(int32(v.GetReg(int(d.Rs1))) + d.ImmS)
	val := v.GetReg(int(d.Rs2))
	switch d.Funct3 {
	case 0: // SB
		if !v.StoreByte(addr, byte(val)) {
			return TrapStoreFault, addr
		}
	case 1: // SH
		if addr%2 != 0 {
			return TrapStoreMisaligned, addr
		}
		if !v.StoreHalf(addr, uint16(val)) {
			return TrapStoreFault, addr
		}
	case 2: // SW
		if addr%4 != 0 {
			return TrapStoreMisaligned, addr
		}
		if !v.StoreWord(addr, val) {
			return TrapStoreFault, addr
		}
	default:
		return TrapIllegalInstruction, d.Raw
	}
	return TrapNone, 0
}

func execLoadFP(v *VMState, d Decoded) (TrapCause, uint32) {
	addr := uint32(int32(v.GetReg(int(d.Rs1))) + d.ImmI)
	if addr%4 != 0 {
		return TrapLoadMisaligned, addr
	}
	w, ok := v.LoadWord(addr)
	if !ok {
		return TrapLoadFault, addr
	}
	v.SetFReg(int(d.Rd), w)
	return TrapNone, 0
}

func execStoreFP(v *VMState, d Decoded) (TrapCause, uint32) {
	addr := uint32(int32(v.GetReg(int(d.Rs1))) + d.ImmS)
	if addr%4 != 0 {
		return TrapStoreMisaligned, addr
	}
	if !v.StoreWord(addr, v.GetFReg(int(d.Rs2))) {
		return TrapStoreFault, addr
	}
	return TrapNone, 0
}

func execOpImm(v *VMState, d Decoded) {
	a := v.GetReg(int(d.Rs1))
	imm := d.ImmI
	var r uint32
	switch d.Funct3 {
	case 0: // ADDI
		r = uint32(int32(a) + imm)
	case 1: // SLLI
		r = a << (uint32(imm) & 0x1F)
	case 2: // SLTI
		if int32(a) < imm {
			r = 1
		}
	case 3: // SLTIU
		if a < uint32(imm) {
			r = 1
		}
	case 4: // XORI
		r = a ^ uint32(imm)
	case 5: // SRLI/SRAI
		shamt := uint32(imm) & 0x1F
		if imm&0x400 != 0 { // bit 10 of the immediate selects arithmetic
			r = uint32(int32(a) >> shamt)
		} else {
			r = a >> shamt
		}
	case 6: // ORI
		r = a | uint32(imm)
	case 7: // ANDI
		r = a & uint32(imm)
	}
	v.SetReg(int(d.Rd), r)
}

func execOp(v *VMState, d Decoded) {
	a := v.GetReg(int(d.Rs1))
	b := v.GetReg(int(d.Rs2))
	var r uint32
	switch d.Funct3 {
	case 0: // ADD/SUB
		if d.Funct7 == 0x20 {
			r = a - b // wraps on overflow, matching RISC-V two's-complement semantics
		} else {
			r = a + b
		}
	case 1: // SLL
		r = a << (b & 0x1F)
	case 2: // SLT
		if int32(a) < int32(b) {
			r = 1
		}
	case 3: // SLTU
		if a < b {
			r = 1
		}
	case 4: // XOR
		r = a ^ b
	case 5: // SRL/SRA
		if d.Funct7 == 0x20 {
			r = uint32(int32(a) >> (b & 0x1F))
		} else {
			r = a >> (b & 0x1F)
		}
	case 6: // OR
		r = a | b
	case 7: // AND
		r = a & b
	}
	v.SetReg(int(d.Rd), r)
}

// execMulDiv implements the M extension: MUL/MULH/MULHSU/MULHU and
// DIV/DIVU/REM/REMU, including the RISC-V-defined divide-by-zero and
// signed-overflow results.
func execMulDiv(v *VMState, d Decoded) {
	a := v.GetReg(int(d.Rs1))
	b := v.GetReg(int(d.Rs2))
	var r uint32
	switch d.Funct3 {
	case 0: // MUL
		r = a * b
	case 1: // MULH
		r = uint32(MulhSigned(int32(a), int32(b)))
	case 2: // MULHSU
		r = uint32(MulhSU(int32(a), b))
	case 3: // MULHU
		r = MulhUnsigned(a, b)
	case 4: // DIV
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			r = 0xFFFFFFFF
		} else if sa == math.MinInt32 && sb == -1 {
			r = 0x80000000
		} else {
			r = uint32(sa / sb)
		}
	case 5: // DIVU
		if b == 0 {
			r = 0xFFFFFFFF
		} else {
			r = a / b
		}
	case 6: // REM
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			r = a
		} else if sa == math.MinInt32 && sb == -1 {
			r = 0
		} else {
			r = uint32(sa % sb)
		}
	case 7: // REMU
		if b == 0 {
			r = a
		} else {
			r = a % b
		}
	}
	v.SetReg(int(d.Rd), r)
}

// doEcall dispatches the syscall convention: number in
// x17 (a7), arguments in x10..x15 (a0..a5), return in x10. Returns true
// if the syscall halted the machine (exit).
func doEcall(v *VMState) bool {
	num := v.GetReg(17)
	switch num {
	case 0: // exit(code)
		code := v.GetReg(10)
		v.StoreWord(ExitAddr, code)
		return true
	case 1: // putchar(byte)
		b := byte(v.GetReg(10))
		v.StoreByte(UartTxAddr, b)
		v.SetReg(10, 0)
	case 2: // write(fd, ptr, len)
		fd := v.GetReg(10)
		ptr := v.GetReg(11)
		length := v.GetReg(12)
		if fd != 1 {
			v.SetReg(10, ^uint32(0))
			return false
		}
		var written uint32
		for i := uint32(0); i < length; i++ {
			b, ok := v.LoadByte(ptr + i)
			if !ok {
				break
			}
			v.StoreByte(UartTxAddr, b)
			written++
		}
		v.SetReg(10, written)
	default:
		trap(v, TrapEcallUnhandled, num)
		return true
	}
	return false
}
