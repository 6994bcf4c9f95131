// rv32_fpu.go - F and D extension arithmetic.
//
// Single-precision (F) operations work directly on one freg's bit
// pattern. Double-precision (D) operations are hosted over a pair of
// adjacent f registers (rd, rd+1) carrying the low/high 32 bits of a
// float64 bit pattern — the host path below always computes in native
// float64 and only uses the pair convention for the register file's
// storage layout, so precision is never actually reduced on this host;
// a GPU kernel lacking double would substitute an emulated softfloat64
// here and accept the resulting precision loss.

package main

import "math"

// FCSR rounding-mode and flag bits, packed into the fcsr CSR.
const (
	fflagNX = 1 << 0 // inexact
	fflagUF = 1 << 1 // underflow
	fflagOF = 1 << 2 // overflow
	fflagDZ = 1 << 3 // divide by zero
	fflagNV = 1 << 4 // invalid operation
)

// canonicalNaN32 is the RISC-V canonical single-precision NaN bit pattern.
const canonicalNaN32 uint32 = 0x7FC00000

// canonicalNaN64 is the RISC-V canonical double-precision NaN bit pattern.
const canonicalNaN64 uint64 = 0x7FF8000000000000

func f32FromBits(b uint32) float32 { return math.Float32frombits(b) }
func f32ToBits(f float32) uint32   { return math.Float32bits(f) }
func f64FromBits(b uint64) float64 { return math.Float64frombits(b) }
func f64ToBits(f float64) uint64   { return math.Float64bits(f) }

// getF64 reassembles a double from the register pair (n, n+1): n holds
// the low 32 bits, n+1 the high 32 bits.
func (v *VMState) getF64(n uint32) float64 {
	lo := v.GetFReg(int(n))
	hi := v.GetFReg(int(n) + 1)
	return f64FromBits(uint64(lo) | uint64(hi)<<32)
}

// setF64 splits a double's bit pattern across the register pair (n, n+1).
func (v *VMState) setF64(n uint32, f float64) {
	bits := f64ToBits(f)
	v.SetFReg(int(n), uint32(bits))
	v.SetFReg(int(n)+1, uint32(bits>>32))
}

// nanBox32 replaces any NaN result with the canonical single-precision
// NaN bit pattern, per the RISC-V rule that an operation producing NaN
// always produces the canonical NaN regardless of the input payloads.
func nanBox32(result float32) float32 {
	if math.IsNaN(float64(result)) {
		return f32FromBits(canonicalNaN32)
	}
	return result
}

// nanBox64 is nanBox32's double-precision counterpart.
func nanBox64(result float64) float64 {
	if math.IsNaN(result) {
		return f64FromBits(canonicalNaN64)
	}
	return result
}

// execOpFP dispatches the OP-FP opcode (0x53): FADD/FSUB/FMUL/FDIV/FSQRT,
// FSGNJ family, FMIN/FMAX, compares, classify, conversions, and moves.
func execOpFP(v *VMState, d Decoded) TrapCause {
	family := d.Funct7 >> 2
	fmt := fpFormat(d.Funct7)

	switch family {
	case 0x00, 0x01, 0x02, 0x03: // FADD, FSUB, FMUL, FDIV
		if fmt == FPDouble {
			a, b := v.getF64(d.Rs1), v.getF64(d.Rs2)
			var r float64
			switch family {
			case 0x00:
				r = a + b
			case 0x01:
				r = a - b
			case 0x02:
				r = a * b
			case 0x03:
				r = a / b
			}
			v.setF64(d.Rd, nanBox64(r))
		} else {
			a, b := f32FromBits(v.GetFReg(int(d.Rs1))), f32FromBits(v.GetFReg(int(d.Rs2)))
			var r float32
			switch family {
			case 0x00:
				r = a + b
			case 0x01:
				r = a - b
			case 0x02:
				r = a * b
			case 0x03:
				r = a / b
			}
			v.SetFReg(int(d.Rd), f32ToBits(nanBox32(r)))
		}
	case 0x0B: // FSQRT
		if fmt == FPDouble {
			v.setF64(d.Rd, nanBox64(math.Sqrt(v.getF64(d.Rs1))))
		} else {
			r := float32(math.Sqrt(float64(f32FromBits(v.GetFReg(int(d.Rs1))))))
			v.SetFReg(int(d.Rd), f32ToBits(nanBox32(r)))
		}
	case 0x04: // FSGNJ / FSGNJN / FSGNJX
		execFSgnj(v, d, fmt)
	case 0x05: // FMIN / FMAX
		execFMinMax(v, d, fmt)
	case 0x14: // FEQ / FLT / FLE
		execFCompare(v, d, fmt)
	case 0x18: // FCVT.W.S/FCVT.WU.S (and .D variants)
		execFCvtToInt(v, d, fmt)
	case 0x1A: // FCVT.S.W/FCVT.S.WU (and .D variants)
		execFCvtFromInt(v, d, fmt)
	case 0x1C: // FMV.X.W / FCLASS.S (and .D)
		execFMvOrClass(v, d, fmt)
	case 0x1E: // FMV.W.X
		v.SetFReg(int(d.Rd), v.GetReg(int(d.Rs1)))
	case 0x08: // FCVT.S.D / FCVT.D.S (cross-format conversion)
		if fmt == FPDouble {
			v.setF64(d.Rd, float64(f32FromBits(v.GetFReg(int(d.Rs1)))))
		} else {
			v.SetFReg(int(d.Rd), f32ToBits(float32(v.getF64(d.Rs1))))
		}
	default:
		return TrapIllegalInstruction
	}
	return TrapNone
}

func execFSgnj(v *VMState, d Decoded, fmt FPFormat) {
	if fmt == FPDouble {
		a := f64ToBits(v.getF64(d.Rs1))
		b := f64ToBits(v.getF64(d.Rs2))
		var r uint64
		switch d.Funct3 {
		case 0: // FSGNJ.D
			r = (a &^ (1 << 63)) | (b & (1 << 63))
		case 1: // FSGNJN.D
			r = (a &^ (1 << 63)) | ((^b) & (1 << 63))
		case 2: // FSGNJX.D
			r = a ^ (b & (1 << 63))
		}
		v.setF64(d.Rd, f64FromBits(r))
		return
	}
	a := v.GetFReg(int(d.Rs1))
	b := v.GetFReg(int(d.Rs2))
	var r uint32
	switch d.Funct3 {
	case 0:
		r = (a &^ (1 << 31)) | (b & (1 << 31))
	case 1:
		r = (a &^ (1 << 31)) | ((^b) & (1 << 31))
	case 2:
		r = a ^ (b & (1 << 31))
	}
	v.SetFReg(int(d.Rd), r)
}

func execFMinMax(v *VMState, d Decoded, fmt FPFormat) {
	if fmt == FPDouble {
		a, b := v.getF64(d.Rs1), v.getF64(d.Rs2)
		var r float64
		if d.Funct3 == 0 {
			r = fmin64(a, b)
		} else {
			r = fmax64(a, b)
		}
		v.setF64(d.Rd, nanBox64(r))
		return
	}
	a, b := f32FromBits(v.GetFReg(int(d.Rs1))), f32FromBits(v.GetFReg(int(d.Rs2)))
	var r float32
	if d.Funct3 == 0 {
		r = fmin32(a, b)
	} else {
		r = fmax32(a, b)
	}
	v.SetFReg(int(d.Rd), f32ToBits(nanBox32(r)))
}

func fmin32(a, b float32) float32 {
	if math.IsNaN(float64(a)) {
		return b
	}
	if math.IsNaN(float64(b)) {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func fmax32(a, b float32) float32 {
	if math.IsNaN(float64(a)) {
		return b
	}
	if math.IsNaN(float64(b)) {
		return a
	}
	if a > b {
		return a
	}
	return b
}

func fmin64(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func fmax64(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	if a > b {
		return a
	}
	return b
}

func execFCompare(v *VMState, d Decoded, fmt FPFormat) {
	var result bool
	if fmt == FPDouble {
		a, b := v.getF64(d.Rs1), v.getF64(d.Rs2)
		switch d.Funct3 {
		case 2: // FEQ.D
			result = a == b
		case 1: // FLT.D
			result = a < b
		case 0: // FLE.D
			result = a <= b
		}
	} else {
		a, b := f32FromBits(v.GetFReg(int(d.Rs1))), f32FromBits(v.GetFReg(int(d.Rs2)))
		switch d.Funct3 {
		case 2:
			result = a == b
		case 1:
			result = a < b
		case 0:
			result = a <= b
		}
	}
	var r uint32
	if result {
		r = 1
	}
	v.SetReg(int(d.Rd), r)
}

func execFCvtToInt(v *VMState, d Decoded, fmt FPFormat) {
	unsigned := d.Rs2 == 1
	var f float64
	if fmt == FPDouble {
		f = v.getF64(d.Rs1)
	} else {
		f = float64(f32FromBits(v.GetFReg(int(d.Rs1))))
	}
	var r uint32
	if unsigned {
		r = uint32(int64(f))
	} else {
		r = uint32(int32(f))
	}
	v.SetReg(int(d.Rd), r)
}

func execFCvtFromInt(v *VMState, d Decoded, fmt FPFormat) {
	unsigned := d.Rs2 == 1
	var f float64
	raw := v.GetReg(int(d.Rs1))
	if unsigned {
		f = float64(raw)
	} else {
		f = float64(int32(raw))
	}
	if fmt == FPDouble {
		v.setF64(d.Rd, f)
	} else {
		v.SetFReg(int(d.Rd), f32ToBits(float32(f)))
	}
}

func execFMvOrClass(v *VMState, d Decoded, fmt FPFormat) {
	if d.Funct3 == 0 { // FMV.X.W (single only on RV32)
		v.SetReg(int(d.Rd), v.GetFReg(int(d.Rs1)))
		return
	}
	// FCLASS.S / FCLASS.D
	var class uint32
	if fmt == FPDouble {
		class = fclass64(v.getF64(d.Rs1))
	} else {
		class = fclass32(f32FromBits(v.GetFReg(int(d.Rs1))))
	}
	v.SetReg(int(d.Rd), class)
}

func fclass32(f float32) uint32 {
	bits := f32ToBits(f)
	neg := bits&0x80000000 != 0
	switch {
	case math.IsInf(float64(f), 1):
		return 1 << 7
	case math.IsInf(float64(f), -1):
		return 1 << 0
	case math.IsNaN(float64(f)):
		if bits&0x00400000 != 0 {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signalling NaN
	case f == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	case neg:
		return 1 << 1
	default:
		return 1 << 6
	}
}

func fclass64(f float64) uint32 {
	bits := f64ToBits(f)
	neg := bits&0x8000000000000000 != 0
	switch {
	case math.IsInf(f, 1):
		return 1 << 7
	case math.IsInf(f, -1):
		return 1 << 0
	case math.IsNaN(f):
		if bits&0x0008000000000000 != 0 {
			return 1 << 9
		}
		return 1 << 8
	case f == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	case neg:
		return 1 << 1
	default:
		return 1 << 6
	}
}

// execFMAddFamily dispatches the four fused multiply-add opcodes:
// FMADD/FMSUB/FNMSUB/FNMADD, each in S and D form.
func execFMAddFamily(v *VMState, d Decoded, rs3 uint32, opcode uint32) TrapCause {
	fmt := fpFormat(d.Funct7)
	if fmt == FPDouble {
		a, b, c := v.getF64(d.Rs1), v.getF64(d.Rs2), v.getF64(rs3)
		var r float64
		switch opcode {
		case OpFMAdd:
			r = a*b + c
		case OpFMSub:
			r = a*b - c
		case OpFNMSub:
			r = -(a*b - c)
		case OpFNMAdd:
			r = -(a*b + c)
		default:
			return TrapIllegalInstruction
		}
		v.setF64(d.Rd, nanBox64(r))
		return TrapNone
	}
	a := f32FromBits(v.GetFReg(int(d.Rs1)))
	b := f32FromBits(v.GetFReg(int(d.Rs2)))
	c := f32FromBits(v.GetFReg(int(rs3)))
	var r float32
	switch opcode {
	case OpFMAdd:
		r = a*b + c
	case OpFMSub:
		r = a*b - c
	case OpFNMSub:
		r = -(a*b - c)
	case OpFNMAdd:
		r = -(a*b + c)
	default:
		return TrapIllegalInstruction
	}
	v.SetFReg(int(d.Rd), f32ToBits(nanBox32(r)))
	return TrapNone
}
