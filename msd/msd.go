// Package msd converts the MSD sequenced-music container, used by a family of
// Windows game titles, into a standard MIDI format-0 file. The container is a
// fixed header followed by packets of 12-byte music-event records; conversion
// is a single forward pass that re-encodes the records with MIDI delta timing.
package msd

import (
	"encoding/binary"
	"errors"
)

const (
	magic            = "WMSD"
	headerSize       = 0x14
	packetHeaderSize = 16
	eventRecordSize  = 12
)

// Meta event types produced by the converter.
const (
	metaMarker     = 0x06
	metaEndOfTrack = 0x2F
	metaSetTempo   = 0x51
)

var (
	ErrInvalidFormat  = errors.New("not an MSD file")
	ErrBufferTooSmall = errors.New("output buffer too small")
)

type header struct {
	timebase    uint32
	packetCount uint32
}

func parseHeader(data []byte) (h header, err error) {
	if len(data) < headerSize || string(data[0:4]) != magic {
		return h, ErrInvalidFormat
	}
	return header{
		timebase:    binary.LittleEndian.Uint32(data[4:]),
		packetCount: binary.LittleEndian.Uint32(data[0x10:]),
	}, nil
}

// pad4 rounds n up to a multiple of 4. Packet payloads and inlined event data
// are stored 4-byte aligned in the stream.
func pad4(n int) int {
	return (n + 3) &^ 3
}

// scanNodeIDs records each packet's node id, in stream order, ahead of the
// main pass. Loop detection compares every packet against the globally last
// node id, so the scan must finish before the first packet is translated.
// A truncated packet ends the scan quietly and the list is simply shorter.
func scanNodeIDs(body []byte, count uint32) []uint32 {
	max := uint32(len(body) / packetHeaderSize)
	if count < max {
		max = count
	}
	ids := make([]uint32, 0, max)
	off := 0
	for i := uint32(0); i < count && off+packetHeaderSize <= len(body); i++ {
		nid := binary.LittleEndian.Uint32(body[off+4:])
		length := binary.LittleEndian.Uint32(body[off+12:])
		ids = append(ids, nid)
		off += packetHeaderSize
		if uint64(length) > uint64(len(body)-off) {
			break
		}
		off += pad4(int(length))
	}
	return ids
}
