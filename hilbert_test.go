package main

import "testing"

func TestHilbertBijection(t *testing.T) {
	for order := uint8(1); order <= 8; order++ {
		n := uint64(1) << order
		total := n * n
		for d := uint64(0); d < total; d++ {
			x, y := DToXY(order, d)
			got := XYToD(order, x, y)
			if got != d {
				t.Fatalf("order %d: DToXY(%d)=(%d,%d), XYToD back=%d, want %d", order, d, x, y, got, d)
			}
		}
	}
}

func TestHilbertLocality(t *testing.T) {
	for order := uint8(1); order <= 8; order++ {
		n := uint64(1) << order
		total := n * n
		var prevX, prevY uint32
		for d := uint64(0); d < total; d++ {
			x, y := DToXY(order, d)
			if d > 0 {
				dx := absDiffU32(x, prevX)
				dy := absDiffU32(y, prevY)
				manhattan := dx + dy
				if manhattan != 1 {
					t.Fatalf("order %d: step %d->%d not unit Manhattan distance: (%d,%d)->(%d,%d)", order, d-1, d, prevX, prevY, x, y)
				}
			}
			prevX, prevY = x, y
		}
	}
}

func TestHilbertWalkMatchesDToXY(t *testing.T) {
	const order = uint8(4)
	var count uint64
	Walk(order, func(d uint64, x, y uint32) bool {
		wantX, wantY := DToXY(order, d)
		if x != wantX || y != wantY {
			t.Fatalf("Walk mismatch at d=%d: got (%d,%d) want (%d,%d)", d, x, y, wantX, wantY)
		}
		count++
		return true
	})
	n := uint64(1) << order
	if count != n*n {
		t.Fatalf("Walk visited %d cells, want %d", count, n*n)
	}
}

func TestOrderForSide(t *testing.T) {
	cases := []struct {
		side    int
		wantK   uint8
		wantErr bool
	}{
		{1, 0, false},
		{2, 1, false},
		{8, 3, false},
		{65536, 16, false},
		{3, 0, true},
		{0, 0, true},
		{-4, 0, true},
		{131072, 0, true}, // order 17, exceeds max
	}
	for _, c := range cases {
		k, err := orderForSide(c.side)
		if c.wantErr {
			if err == nil {
				t.Errorf("orderForSide(%d): expected error, got k=%d", c.side, k)
			}
			continue
		}
		if err != nil {
			t.Errorf("orderForSide(%d): unexpected error %v", c.side, err)
			continue
		}
		if k != c.wantK {
			t.Errorf("orderForSide(%d) = %d, want %d", c.side, k, c.wantK)
		}
	}
}

func absDiffU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
