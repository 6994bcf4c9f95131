package main

import (
	"math"
	"testing"
)

func encodeFR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return encodeR(opcode, rd, funct3, rs1, rs2, funct7)
}

func TestFAddSingle(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(1.5))
	vs.SetFReg(2, f32ToBits(2.25))
	d := Decode(encodeFR(OpOpFP, 3, 0, 1, 2, 0x00)) // FADD.S f3, f1, f2
	if trap := execOpFP(vs, d); trap != TrapNone {
		t.Fatalf("unexpected trap %v", trap)
	}
	got := f32FromBits(vs.GetFReg(3))
	if got != 3.75 {
		t.Fatalf("FADD.S = %v, want 3.75", got)
	}
}

func TestFAddDouble(t *testing.T) {
	vs := newTestVM(t)
	vs.setF64(10, 1.5)
	vs.setF64(12, 2.25)
	d := Decode(encodeFR(OpOpFP, 14, 0, 10, 12, 0x01)) // FADD.D f14, f10, f12
	if trap := execOpFP(vs, d); trap != TrapNone {
		t.Fatalf("unexpected trap %v", trap)
	}
	if got := vs.getF64(14); got != 3.75 {
		t.Fatalf("FADD.D = %v, want 3.75", got)
	}
}

func TestFDivByZeroIsInf(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(1.0))
	vs.SetFReg(2, f32ToBits(0.0))
	d := Decode(encodeFR(OpOpFP, 3, 0, 1, 2, 0x0C)) // FDIV.S
	execOpFP(vs, d)
	got := f32FromBits(vs.GetFReg(3))
	if !math.IsInf(float64(got), 1) {
		t.Fatalf("FDIV.S by zero = %v, want +Inf", got)
	}
}

func TestFDivZeroByZeroIsCanonicalNaN(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(0.0))
	vs.SetFReg(2, f32ToBits(0.0))
	d := Decode(encodeFR(OpOpFP, 3, 0, 1, 2, 0x0C)) // FDIV.S
	execOpFP(vs, d)
	if got := vs.GetFReg(3); got != canonicalNaN32 {
		t.Fatalf("FDIV.S(0,0) bits = %#x, want canonical NaN %#x", got, canonicalNaN32)
	}
}

func TestFSubDoubleInfMinusInfIsCanonicalNaN(t *testing.T) {
	vs := newTestVM(t)
	vs.setF64(10, math.Inf(1))
	vs.setF64(12, math.Inf(1))
	d := Decode(encodeFR(OpOpFP, 14, 0, 10, 12, 0x05)) // FSUB.D
	execOpFP(vs, d)
	if got := f64ToBits(vs.getF64(14)); got != canonicalNaN64 {
		t.Fatalf("FSUB.D(+Inf,+Inf) bits = %#x, want canonical NaN %#x", got, canonicalNaN64)
	}
}

func TestFMinBothNaNIsCanonicalNaN(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, 0x7FA00000) // a signalling-ish NaN payload, non-canonical
	vs.SetFReg(2, 0x7FB00000)
	d := Decode(encodeFR(OpOpFP, 3, 0, 1, 2, 0x14)) // FMIN.S, family 0x05
	execOpFP(vs, d)
	if got := vs.GetFReg(3); got != canonicalNaN32 {
		t.Fatalf("FMIN.S(NaN,NaN) bits = %#x, want canonical NaN %#x", got, canonicalNaN32)
	}
}

func TestFCompareEQ(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(3.0))
	vs.SetFReg(2, f32ToBits(3.0))
	d := Decode(encodeFR(OpOpFP, 5, 2, 1, 2, 0x50)) // FEQ.S funct3=2 family 0x14
	execOpFP(vs, d)
	if got := vs.GetReg(5); got != 1 {
		t.Fatalf("FEQ.S = %d, want 1", got)
	}
}

func TestFCvtWSTruncatesTowardZero(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(3.9))
	d := Decode(encodeFR(OpOpFP, 5, 0, 1, 0, 0x60)) // FCVT.W.S family 0x18, rs2=0
	execOpFP(vs, d)
	if got := int32(vs.GetReg(5)); got != 3 {
		t.Fatalf("FCVT.W.S(3.9) = %d, want 3", got)
	}
}

func TestFMAddSingle(t *testing.T) {
	vs := newTestVM(t)
	vs.SetFReg(1, f32ToBits(2.0))
	vs.SetFReg(2, f32ToBits(3.0))
	vs.SetFReg(3, f32ToBits(1.0))
	d := Decode(encodeR(OpFMAdd, 4, 0, 1, 2, 0x00<<2)) // fmt bits cleared = single
	rs3 := uint32(3)
	if trap := execFMAddFamily(vs, d, rs3, OpFMAdd); trap != TrapNone {
		t.Fatalf("unexpected trap %v", trap)
	}
	got := f32FromBits(vs.GetFReg(4))
	if got != 7.0 {
		t.Fatalf("FMADD.S = %v, want 7.0 (2*3+1)", got)
	}
}

func TestFClassZero(t *testing.T) {
	if c := fclass32(0); c != 1<<4 {
		t.Fatalf("fclass32(+0) = %#x, want %#x", c, uint32(1<<4))
	}
	if c := fclass32(float32(math.Copysign(0, -1))); c != 1<<3 {
		t.Fatalf("fclass32(-0) = %#x, want %#x", c, uint32(1<<3))
	}
}

func TestMulhSUEdgeCase(t *testing.T) {
	// MULHSU(-1, 1) = high 32 bits of (-1 as i64) * (1 as u64) = -1 >> 32 = -1
	got := MulhSU(-1, 1)
	if got != -1 {
		t.Fatalf("MulhSU(-1,1) = %d, want -1", got)
	}
}
