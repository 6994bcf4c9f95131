package main

import "testing"

func TestRegisterX0AlwaysZero(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.SetReg(0, 0xDEADBEEF)
	if got := vs.GetReg(0); got != 0 {
		t.Fatalf("GetReg(0) = %#x, want 0", got)
	}
	if err := vs.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterReadWrite(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.SetReg(5, 123)
	if got := vs.GetReg(5); got != 123 {
		t.Fatalf("GetReg(5) = %d, want 123", got)
	}
}

func TestWordLoadStoreRoundtrip(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	addr := uint32(RAMBase + 16)
	if !vs.StoreWord(addr, 0x11223344) {
		t.Fatal("StoreWord failed")
	}
	got, ok := vs.LoadWord(addr)
	if !ok {
		t.Fatal("LoadWord failed")
	}
	if got != 0x11223344 {
		t.Fatalf("LoadWord = %#x, want 0x11223344", got)
	}
}

func TestLoadMisalignedReported(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	if _, ok := vs.LoadWord(RAMBase + 1); ok {
		t.Fatal("LoadWord at misaligned address should fail")
	}
}

func TestUnmappedAddressRejected(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	if _, ok := vs.LoadWord(0); ok {
		t.Fatal("LoadWord at address 0 should fail: unmapped")
	}
}

func TestUartTxPushAndDrain(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	msg := []byte("Hi\n")
	for _, b := range msg {
		if !vs.StoreByte(UartTxAddr, b) {
			t.Fatal("StoreByte to UART_TX failed")
		}
	}
	got := vs.DrainUART()
	if string(got) != "Hi\n" {
		t.Fatalf("DrainUART = %q, want %q", got, "Hi\n")
	}
	if got := vs.DrainUART(); got != nil {
		t.Fatalf("second DrainUART = %v, want nil", got)
	}
}

func TestUartRingOverflowDropsOldest(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	for i := 0; i < UartRingSize+10; i++ {
		vs.StoreByte(UartTxAddr, byte(i))
	}
	if dropped := vs.UartDroppedBytes(); dropped == 0 {
		t.Fatal("expected nonzero dropped byte count after ring overflow")
	}
	out := vs.DrainUART()
	if len(out) >= UartRingSize+10 {
		t.Fatalf("drained %d bytes, want fewer than written due to overflow", len(out))
	}
}

func TestExitMMIOSetsHaltAndCode(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	if !vs.StoreWord(ExitAddr, 42) {
		t.Fatal("StoreWord to EXIT failed")
	}
	e := vs.Exec()
	if e.Halt != 1 {
		t.Fatalf("Halt = %d, want 1", e.Halt)
	}
	if e.ExitCode != 42 {
		t.Fatalf("ExitCode = %d, want 42", e.ExitCode)
	}
}

func TestHeatCounterIncrementsRegardlessOfValue(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, 4)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.StoreWord(HeatBase, 0xFFFFFFFF)
	vs.StoreWord(HeatBase, 0)
	snap := vs.HeatSnapshot()
	if snap[0] != 2 {
		t.Fatalf("heat[0] = %d, want 2", snap[0])
	}
}

func TestUnknownCSRReadsZeroWriteIsNoop(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.SetCSR(9999, 123)
	if got := vs.GetCSR(9999); got != 0 {
		t.Fatalf("GetCSR(unknown) = %d, want 0", got)
	}
}

func TestCSRNamedRegistersRoundtrip(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.SetCSR(CsrMstatus, 7)
	if got := vs.GetCSR(CsrMstatus); got != 7 {
		t.Fatalf("GetCSR(mstatus) = %d, want 7", got)
	}
}

func TestLoadProgramPlacesCodeAtEntry(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	code := []uint32{0x00000013, 0xDEADBEEF}
	if err := vs.LoadProgram(RAMBase, code); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	w0, _ := vs.LoadWord(RAMBase)
	w1, _ := vs.LoadWord(RAMBase + 4)
	if w0 != code[0] || w1 != code[1] {
		t.Fatalf("loaded words = (%#x, %#x), want (%#x, %#x)", w0, w1, code[0], code[1])
	}
	e := vs.Exec()
	if e.PC != RAMBase {
		t.Fatalf("exec.PC = %#x, want %#x", e.PC, uint32(RAMBase))
	}
}

func TestLoadProgramTooLargeErrors(t *testing.T) {
	vs, err := NewVMState(4096, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	code := make([]uint32, 4096)
	if err := vs.LoadProgram(RAMBase, code); err == nil {
		t.Fatal("expected error loading a program larger than RAM")
	}
}

func TestResetClearsStateKeepsSize(t *testing.T) {
	vs, err := NewVMState(DefaultRAMSize, DefaultHeatSlots)
	if err != nil {
		t.Fatalf("NewVMState: %v", err)
	}
	vs.SetReg(3, 99)
	vs.StoreWord(RAMBase, 0x12345678)
	vs.Reset()
	if got := vs.GetReg(3); got != 0 {
		t.Fatalf("GetReg(3) after reset = %d, want 0", got)
	}
	w, _ := vs.LoadWord(RAMBase)
	if w != 0 {
		t.Fatalf("RAM after reset = %#x, want 0", w)
	}
	if vs.RAMSize() != DefaultRAMSize {
		t.Fatalf("RAMSize after reset = %d, want %d", vs.RAMSize(), DefaultRAMSize)
	}
}

func TestNewVMStateRejectsBadSizes(t *testing.T) {
	if _, err := NewVMState(0, DefaultHeatSlots); err == nil {
		t.Fatal("expected error for zero RAM size")
	}
	if _, err := NewVMState(100, DefaultHeatSlots); err == nil {
		t.Fatal("expected error for non-power-of-two RAM size")
	}
}
