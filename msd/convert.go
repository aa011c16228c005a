package msd

import "encoding/binary"

// A LoopStyle selects how the loop boundary found in the packet stream is
// marked in the output track.
type LoopStyle int

const (
	// LoopMarkerMeta emits marker meta events named "loopStart" and
	// "loopEnd" around the looped section.
	LoopMarkerMeta LoopStyle = iota
	// LoopMarkerController emits a single Control Change 111 message at the
	// loop start. There is no matching end marker in this style.
	LoopMarkerController
)

// MThd chunk (14 bytes) plus the MTrk chunk header (8 bytes).
const smfHeaderSize = 22

// Convert translates an MSD byte buffer into a complete MIDI format-0 file.
func Convert(src []byte, style LoopStyle) ([]byte, error) {
	track, timebase, err := convertTrack(src, style)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, smfHeaderSize+len(track))
	return appendSMF(out, track, uint16(timebase)), nil
}

// ConvertTo converts src into dst and returns the number of bytes written,
// always 22 plus the track length. If dst cannot hold the result, it is left
// untouched and ConvertTo returns ErrBufferTooSmall; the caller may retry
// with a larger buffer.
func ConvertTo(dst, src []byte, style LoopStyle) (int, error) {
	track, timebase, err := convertTrack(src, style)
	if err != nil {
		return 0, err
	}
	n := smfHeaderSize + len(track)
	if len(dst) < n {
		return 0, ErrBufferTooSmall
	}
	appendSMF(dst[:0], track, uint16(timebase))
	return n, nil
}

func convertTrack(src []byte, style LoopStyle) ([]byte, uint32, error) {
	h, err := parseHeader(src)
	if err != nil {
		return nil, 0, err
	}
	body := src[headerSize:]
	nids := scanNodeIDs(body, h.packetCount)
	var lastNID uint32
	if len(nids) > 0 {
		lastNID = nids[len(nids)-1]
	}

	// The output rarely exceeds twice the input; start there and let append
	// grow for pathological inputs.
	hint := 2 * len(src)
	if hint < 64 {
		hint = 64
	}
	t := tracker{buf: make([]byte, 0, hint)}

	off := 0
	for i := uint32(0); i < h.packetCount && off+packetHeaderSize <= len(body); i++ {
		pid := binary.LittleEndian.Uint32(body[off:])
		length := binary.LittleEndian.Uint32(body[off+12:])
		off += packetHeaderSize
		if uint64(length) > uint64(len(body)-off) {
			break
		}
		payload := body[off : off+int(length)]
		off += pad4(int(length))

		if len(nids) > 0 && pid == lastNID && !t.loopStarted {
			t.loopStart(style)
		}
		t.translatePacket(payload)
	}

	if t.loopStarted && style == LoopMarkerMeta {
		t.metaEvent(metaMarker, []byte("loopEnd"))
	}
	t.metaEvent(metaEndOfTrack, nil)
	return t.buf, h.timebase, nil
}

// loopStart fires at most once, on the first packet whose id equals the last
// scanned node id.
func (t *tracker) loopStart(style LoopStyle) {
	switch style {
	case LoopMarkerMeta:
		t.metaEvent(metaMarker, []byte("loopStart"))
	case LoopMarkerController:
		t.shortMessage([]byte{0xB0, 0x6F, 0x00})
	default:
		// Unknown styles still latch and reset the accumulator, matching
		// the reference flag handling, but emit nothing.
		t.delta = 0
	}
	t.loopStarted = true
}

// appendSMF wraps the assembled track in MThd and MTrk chunks.
func appendSMF(out, track []byte, division uint16) []byte {
	out = append(out, "MThd"...)
	out = appendBE32(out, 6)
	out = appendBE16(out, 0) // format 0
	out = appendBE16(out, 1) // single track
	out = appendBE16(out, division)
	out = append(out, "MTrk"...)
	out = appendBE32(out, uint32(len(track)))
	return append(out, track...)
}

func appendBE16(out []byte, v uint16) []byte {
	return append(out, byte(v>>8), byte(v))
}

func appendBE32(out []byte, v uint32) []byte {
	return append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
