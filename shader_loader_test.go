package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadShaderSourceFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vm.wgsl"), []byte("// kernel\n"), 0o644); err != nil {
		t.Fatalf("writing shader source: %v", err)
	}
	cfg := DefaultVMConfig()
	cfg.ShaderDir = dir
	cfg.BinaryDir = filepath.Join(dir, "nonexistent-spirv")

	src, err := LoadShader(cfg, "vm")
	if err != nil {
		t.Fatalf("LoadShader: %v", err)
	}
	if src.IsBinary() {
		t.Fatal("expected source fallback, got binary")
	}
	if src.Text != "// kernel\n" {
		t.Fatalf("Text = %q, want %q", src.Text, "// kernel\n")
	}
}

func TestLoadShaderBinaryPreferred(t *testing.T) {
	dir := t.TempDir()
	spirvDir := filepath.Join(dir, "spirv")
	if err := os.MkdirAll(spirvDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(spirvDir, "vm.spv"), []byte{1, 0, 0, 0, 2, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("writing spv: %v", err)
	}
	cfg := DefaultVMConfig()
	cfg.ShaderDir = dir
	cfg.BinaryDir = spirvDir

	src, err := LoadShader(cfg, "vm")
	if err != nil {
		t.Fatalf("LoadShader: %v", err)
	}
	if !src.IsBinary() {
		t.Fatal("expected binary to be preferred when present")
	}
	if len(src.Binary) != 2 || src.Binary[0] != 1 || src.Binary[1] != 2 {
		t.Fatalf("Binary = %v, want [1 2]", src.Binary)
	}
}

func TestLoadShaderBadAlignment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.spv"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("writing spv: %v", err)
	}
	cfg := DefaultVMConfig()
	cfg.ShaderMode = ShaderModeBinary
	cfg.BinaryDir = dir

	_, err := LoadShader(cfg, "broken")
	if err == nil {
		t.Fatal("expected BadBinaryAlignment error")
	}
	sle, ok := err.(*ShaderLoaderError)
	if !ok || sle.Kind != "BadBinaryAlignment" {
		t.Fatalf("expected BadBinaryAlignment, got %v", err)
	}
}

func TestLoadShaderFileNotFound(t *testing.T) {
	cfg := DefaultVMConfig()
	cfg.ShaderMode = ShaderModeSource
	cfg.ShaderDir = t.TempDir()
	_, err := LoadShader(cfg, "missing")
	if err == nil {
		t.Fatal("expected FileNotFound error")
	}
	sle, ok := err.(*ShaderLoaderError)
	if !ok || sle.Kind != "FileNotFound" {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}
