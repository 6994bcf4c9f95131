// shader_loader.go - resolve a named compute shader: compiled SPIR-V
// binary preferred, WGSL source fallback.
//
// Grounded on the same file/path handling idiom as file_io.go. Resolution
// order: try {name}.spv under the configured binary directory first,
// then {name}.wgsl source, unless mode forces one path.

package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// ShaderLoaderError tags the loader's distinct failure modes.
type ShaderLoaderError struct {
	Kind string // "SpvUnavailable", "FileNotFound", "BadBinaryAlignment", "IoError"
	Msg  string
}

func (e *ShaderLoaderError) Error() string {
	return fmt.Sprintf("shader_loader: %s: %s", e.Kind, e.Msg)
}

// ShaderSource is the resolved shader: exactly one of Binary (raw SPIR-V
// words) or Text (WGSL source) is populated.
type ShaderSource struct {
	Name   string
	Binary []uint32
	Text   string
	isBinary bool
}

// IsBinary reports whether the resolved shader is a SPIR-V binary module
// as opposed to source text.
func (s *ShaderSource) IsBinary() bool { return s.isBinary }

// LoadShader resolves name to a ShaderSource per the mode and directories
// in cfg.
func LoadShader(cfg VMConfig, name string) (*ShaderSource, error) {
	switch cfg.ShaderMode {
	case ShaderModeBinary:
		return loadBinary(cfg.BinaryDir, name)
	case ShaderModeSource:
		return loadSource(cfg.ShaderDir, name)
	default: // Auto
		if cfg.BinaryDir != "" {
			spvPath := filepath.Join(cfg.BinaryDir, name+".spv")
			if _, err := os.Stat(spvPath); err == nil {
				return loadBinary(cfg.BinaryDir, name)
			}
		}
		return loadSource(cfg.ShaderDir, name)
	}
}

func loadBinary(dir, name string) (*ShaderSource, error) {
	if dir == "" {
		return nil, &ShaderLoaderError{Kind: "SpvUnavailable", Msg: "no binary directory configured"}
	}
	path := filepath.Join(dir, name+".spv")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ShaderLoaderError{Kind: "FileNotFound", Msg: path}
		}
		return nil, &ShaderLoaderError{Kind: "IoError", Msg: err.Error()}
	}
	if len(data)%4 != 0 {
		return nil, &ShaderLoaderError{Kind: "BadBinaryAlignment", Msg: fmt.Sprintf("%s: length %d is not a multiple of 4", path, len(data))}
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
	}
	return &ShaderSource{Name: name, Binary: words, isBinary: true}, nil
}

func loadSource(dir, name string) (*ShaderSource, error) {
	path := filepath.Join(dir, name+".wgsl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ShaderLoaderError{Kind: "FileNotFound", Msg: path}
		}
		return nil, &ShaderLoaderError{Kind: "IoError", Msg: err.Error()}
	}
	return &ShaderSource{Name: name, Text: string(data)}, nil
}
