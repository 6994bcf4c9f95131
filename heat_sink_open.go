// heat_sink_open.go - a HeatSink writing the framed wire format
// (cycles_total, a delta count, then pc_bucket/count pairs) to the
// -heat-sink path.

package main

import (
	"encoding/binary"
	"os"
)

// fileHeatSink appends one framed message per window to a plain file,
// mirroring the UART sink's fallback path but without the non-blocking
// fd requirement: heat messages are small and infrequent (one per
// window, only when buckets changed), so ordinary blocking writes are
// fine here even on the unix build.
type fileHeatSink struct {
	f *os.File
}

func openHeatSink(path string) (HeatSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileHeatSink{f: f}, nil
}

// SendHeat implements HeatSink, writing cyclesTotal (u64), the number of
// deltas (u32), then a pc_bucket/count pair per delta, all little-endian.
func (s *fileHeatSink) SendHeat(cyclesTotal uint64, deltas []HeatDelta) {
	buf := make([]byte, 8+4+len(deltas)*8)
	binary.LittleEndian.PutUint64(buf, cyclesTotal)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(deltas)))
	off := 12
	for _, d := range deltas {
		binary.LittleEndian.PutUint32(buf[off:], d.PCBucket)
		binary.LittleEndian.PutUint32(buf[off+4:], d.Count)
		off += 8
	}
	s.f.Write(buf)
}
