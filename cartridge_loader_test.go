package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestCartridgeRoundtrip(t *testing.T) {
	code := []uint32{0x00000013, 0xDEADBEEF, 0x12345678, 0xCAFEF00D}
	img, order, err := EncodeCartridge(code)
	if err != nil {
		t.Fatalf("EncodeCartridge: %v", err)
	}
	if order == 0 {
		t.Fatalf("unexpected order 0 for %d words", len(code))
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "test.rts.png")
	if err := writeCartridgePNG(path, img); err != nil {
		t.Fatalf("writeCartridgePNG: %v", err)
	}

	prog, err := LoadCartridge(path)
	if err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if len(prog.Code) != len(code) {
		t.Fatalf("loaded %d words, want %d", len(prog.Code), len(code))
	}
	for i := range code {
		if prog.Code[i] != code[i] {
			t.Fatalf("word %d = %#x, want %#x", i, prog.Code[i], code[i])
		}
	}
	if prog.EntryPoint != DefaultEntryPoint {
		t.Fatalf("EntryPoint = %#x, want default %#x", prog.EntryPoint, DefaultEntryPoint)
	}
	if prog.Architecture != DefaultArchitecture {
		t.Fatalf("Architecture = %q, want default %q", prog.Architecture, DefaultArchitecture)
	}
}

func TestCartridgeWithSidecar(t *testing.T) {
	code := []uint32{1, 2, 3}
	img, _, err := EncodeCartridge(code)
	if err != nil {
		t.Fatalf("EncodeCartridge: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tagged.rts.png")
	if err := writeCartridgePNG(path, img); err != nil {
		t.Fatalf("writeCartridgePNG: %v", err)
	}
	sidecar := `{"entry_point": "0x80001000", "grid_size": 4, "architecture": "wgsl-source"}`
	sidecarPath := filepath.Join(dir, "tagged.rts.json")
	if err := os.WriteFile(sidecarPath, []byte(sidecar), 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}

	prog, err := LoadCartridge(path)
	if err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if prog.EntryPoint != 0x80001000 {
		t.Fatalf("EntryPoint = %#x, want 0x80001000", prog.EntryPoint)
	}
	if prog.Architecture != ArchitectureWGSLSource {
		t.Fatalf("Architecture = %q, want %q", prog.Architecture, ArchitectureWGSLSource)
	}
}

func TestCartridgeNonSquareRejected(t *testing.T) {
	img, _, err := EncodeCartridge([]uint32{1, 2})
	if err != nil {
		t.Fatalf("EncodeCartridge: %v", err)
	}
	_ = img
	widePath := filepath.Join(t.TempDir(), "wide.rts.png")
	if err := writeCartridgePNG(widePath, image.NewRGBA(image.Rect(0, 0, 4, 2))); err != nil {
		t.Fatalf("writeCartridgePNG: %v", err)
	}
	if _, err := LoadCartridge(widePath); err == nil {
		t.Fatal("expected BadGeometry for a 4x2 image")
	} else if ce, ok := err.(*CartridgeError); !ok || ce.Kind != "BadGeometry" {
		t.Fatalf("expected BadGeometry, got %v", err)
	}
	if _, err := LoadCartridge("/nonexistent/path.rts.png"); err == nil {
		t.Fatal("expected IoError for missing file")
	} else if ce, ok := err.(*CartridgeError); !ok || ce.Kind != "IoError" {
		t.Fatalf("expected IoError, got %v", err)
	}
}

func TestTrimTrailingZeros(t *testing.T) {
	words := []uint32{1, 2, 0, 0, 0}
	trimmed := trimTrailingZeros(words)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed length = %d, want 2", len(trimmed))
	}
}
