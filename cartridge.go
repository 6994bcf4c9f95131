// cartridge.go - decode a .rts.png cartridge into an ordered u32 word
// stream plus sidecar metadata.
//
// A cartridge is a square RGBA image whose pixels, visited along a
// Hilbert curve of matching order, yield one little-endian 32-bit word
// per pixel ([R, G, B, A] as the low-to-high bytes). Trailing all-zero
// words are padding and are trimmed from the returned code.

package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CartridgeError tags the loader's distinct failure modes.
type CartridgeError struct {
	Kind string // "IoError", "BadImage", "BadGeometry", "BadMetadata"
	Msg  string
}

func (e *CartridgeError) Error() string {
	return fmt.Sprintf("cartridge: %s: %s", e.Kind, e.Msg)
}

func cartridgeErrf(kind, format string, args ...any) error {
	return &CartridgeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// CartridgeMetadata is the optional JSON sidecar next to a cartridge
// image, same stem, carrying at least entry_point/grid_size/architecture.
// Additional keys are tolerated and ignored (they are not kept).
type CartridgeMetadata struct {
	EntryPoint   string `json:"entry_point"`
	GridSize     int    `json:"grid_size"`
	Architecture string `json:"architecture"`
}

// Program is the decoded result of loading a cartridge: the entry point,
// the trimmed instruction/data word stream, the Hilbert grid order it was
// unpacked from, and the resolved metadata (including defaults applied).
type Program struct {
	EntryPoint   uint32
	Code         []uint32
	GridOrder    uint8
	Architecture string
}

// LoadCartridge decodes the RGBA image at path into a Program, applying
// sidecar defaults when no metadata file exists or individual fields are
// missing.
func LoadCartridge(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cartridgeErrf("IoError", "opening %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, cartridgeErrf("BadImage", "decoding %s: %v", path, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width != height {
		return nil, cartridgeErrf("BadGeometry", "image is %dx%d, must be square", width, height)
	}
	if width == 0 || bits.OnesCount(uint(width)) != 1 {
		return nil, cartridgeErrf("BadGeometry", "side %d is not a power of two", width)
	}
	order, err := orderForSide(width)
	if err != nil {
		return nil, cartridgeErrf("BadGeometry", "%v", err)
	}

	rgba := toRGBA(img)
	code := extractWords(rgba, order, bounds.Min.X, bounds.Min.Y, width)
	code = trimTrailingZeros(code)

	meta, err := loadSidecar(path)
	if err != nil {
		return nil, err
	}

	entryPoint := DefaultEntryPoint
	if meta != nil && meta.EntryPoint != "" {
		v, perr := parseHexU32(meta.EntryPoint)
		if perr != nil {
			return nil, cartridgeErrf("BadMetadata", "entry_point %q: %v", meta.EntryPoint, perr)
		}
		entryPoint = v
	}
	architecture := DefaultArchitecture
	if meta != nil && meta.Architecture != "" {
		architecture = meta.Architecture
	}

	return &Program{
		EntryPoint:   entryPoint,
		Code:         code,
		GridOrder:    order,
		Architecture: architecture,
	}, nil
}

// toRGBA returns an *image.RGBA whose Pix holds img's non-premultiplied
// [R, G, B, A] bytes, so each pixel's channels read back as the word bytes
// they were written from. A decoded *image.NRGBA's bytes are reused as-is;
// other image types are converted pixel by pixel through color.NRGBAModel.
func toRGBA(img image.Image) *image.RGBA {
	switch m := img.(type) {
	case *image.RGBA:
		return m
	case *image.NRGBA:
		return &image.RGBA{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect}
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := rgba.PixOffset(x, y)
			rgba.Pix[i+0], rgba.Pix[i+1], rgba.Pix[i+2], rgba.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return rgba
}

// extractWords walks the Hilbert curve of the given order and assembles
// one little-endian u32 per visited pixel from its [R, G, B, A] channels.
func extractWords(img *image.RGBA, order uint8, originX, originY, side int) []uint32 {
	n := uint64(1) << order
	words := make([]uint32, n*n)
	Walk(order, func(d uint64, x, y uint32) bool {
		px := originX + int(x)
		py := originY + int(y)
		i := img.PixOffset(px, py)
		r := img.Pix[i+0]
		g := img.Pix[i+1]
		b := img.Pix[i+2]
		a := img.Pix[i+3]
		words[d] = uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
		return true
	})
	_ = side
	return words
}

// trimTrailingZeros drops trailing all-zero words, leaving the code
// length implied by the last nonzero word.
func trimTrailingZeros(words []uint32) []uint32 {
	end := len(words)
	for end > 0 && words[end-1] == 0 {
		end--
	}
	return words[:end:end]
}

// loadSidecar reads the JSON metadata file next to path (same stem, plus
// sidecarSuffix), returning nil if no such file exists.
func loadSidecar(path string) (*CartridgeMetadata, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	sidecarPath := stem + sidecarSuffix
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cartridgeErrf("IoError", "reading sidecar %s: %v", sidecarPath, err)
	}
	var meta CartridgeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, cartridgeErrf("BadMetadata", "parsing sidecar %s: %v", sidecarPath, err)
	}
	return &meta, nil
}

// parseHexU32 parses a hex string like "0x80000000" into a uint32.
func parseHexU32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// EncodeCartridge packs a word stream into a square RGBA image of the
// smallest order that holds it, for use by tests and by any tooling that
// authors cartridges rather than merely loading them.
func EncodeCartridge(code []uint32) (*image.RGBA, uint8, error) {
	order := uint8(0)
	for {
		n := uint64(1) << order
		if n*n >= uint64(len(code)) {
			break
		}
		order++
		if order > MaxHilbertOrder {
			return nil, 0, cartridgeErrf("BadGeometry", "code of %d words exceeds max grid order %d", len(code), MaxHilbertOrder)
		}
	}
	side := int(1) << order
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	Walk(order, func(d uint64, x, y uint32) bool {
		var w uint32
		if d < uint64(len(code)) {
			w = code[d]
		}
		i := img.PixOffset(int(x), int(y))
		img.Pix[i+0] = byte(w)
		img.Pix[i+1] = byte(w >> 8)
		img.Pix[i+2] = byte(w >> 16)
		img.Pix[i+3] = byte(w >> 24)
		return true
	})
	return img, order, nil
}

// writeCartridgePNG is a small helper used by tests to materialize an
// EncodeCartridge result to disk for LoadCartridge round-trip checks. The
// image's Pix bytes are written as non-premultiplied RGBA, so a word whose
// alpha byte is below 0xFF keeps its other three bytes.
func writeCartridgePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, &image.NRGBA{Pix: img.Pix, Stride: img.Stride, Rect: img.Rect})
}
