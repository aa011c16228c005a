package msd

import "encoding/binary"

// msgLen maps the high nibble of a status byte (0x8..0xF) to the length of
// the corresponding short message. The 0xF system range is not stored as a
// short message by MSD and maps to 0.
var msgLen = [8]byte{3, 3, 2, 3, 2, 2, 3, 0}

// A tracker accumulates the single output track: the encoded event bytes, the
// running delta-time and the loop latch.
type tracker struct {
	buf         []byte
	delta       uint32
	loopStarted bool
}

// appendVLQ appends v as a MIDI variable-length quantity: big-endian 7-bit
// groups with the continuation bit set on all but the last. Values up to the
// full 32-bit range are supported, producing at most 5 bytes.
func appendVLQ(buf []byte, v uint32) []byte {
	var tmp [5]byte
	n := len(tmp) - 1
	tmp[n] = byte(v & 0x7F)
	for v >>= 7; v != 0; v >>= 7 {
		n--
		tmp[n] = 0x80 | byte(v&0x7F)
	}
	return append(buf, tmp[n:]...)
}

func (t *tracker) shortMessage(msg []byte) {
	t.buf = appendVLQ(t.buf, t.delta)
	t.buf = append(t.buf, msg...)
	t.delta = 0
}

func (t *tracker) metaEvent(typ byte, data []byte) {
	t.buf = appendVLQ(t.buf, t.delta)
	t.buf = append(t.buf, 0xFF, typ)
	t.buf = appendVLQ(t.buf, uint32(len(data)))
	t.buf = append(t.buf, data...)
	t.delta = 0
}

// sysEx emits a system-exclusive event. The first stored byte is implied by
// the 0xF0 status and is not repeated in the event body.
func (t *tracker) sysEx(data []byte) {
	t.buf = appendVLQ(t.buf, t.delta)
	t.buf = append(t.buf, 0xF0)
	t.buf = appendVLQ(t.buf, uint32(len(data)-1))
	t.buf = append(t.buf, data[1:]...)
	t.delta = 0
}

// translatePacket converts one packet payload's 12-byte event records into
// encoded MIDI events. Each record's delta joins the running accumulator
// before dispatch, so silent records coalesce their delay into the next
// emitted event. A record declaring more trailing data than the payload
// holds ends the packet quietly.
func (t *tracker) translatePacket(payload []byte) {
	off := 0
	for off+eventRecordSize <= len(payload) {
		ev := payload[off : off+eventRecordSize]
		t.delta += binary.LittleEndian.Uint32(ev)
		param := binary.LittleEndian.Uint32(ev[8:])
		typ := ev[11] & 0xBF // bit 0x40 is reserved

		switch {
		case typ == 0 && ev[8] != 0xFF:
			if n := msgLen[(ev[8]>>4)&7]; n > 0 {
				t.shortMessage(ev[8 : 8+int(n)])
			}
		case typ == 1:
			// The tempo bytes are stored in reversed order.
			t.metaEvent(metaSetTempo, []byte{ev[10], ev[9], ev[8]})
		case typ == 0x80:
			n := int(param & 0xFFFFFF)
			if n > len(payload)-off-eventRecordSize {
				return
			}
			if n > 0 {
				t.sysEx(payload[off+eventRecordSize : off+eventRecordSize+n])
			}
			off += pad4(n)
		case ev[11]&0x80 != 0:
			// Control record with no MIDI-visible effect. Its declared
			// length replaces the usual record advance; a zero length
			// falls through so the cursor always moves forward.
			if n := pad4(int(param & 0xFFFFFF)); n > 0 {
				off += n
				continue
			}
		}
		off += eventRecordSize
	}
}
