package msd

import (
	"bytes"
	"io"
	"testing"

	"moria.us/msd2mid/midi"
)

type packetSpec struct {
	pid, nid uint32
	payload  []byte
}

func le32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func msdFile(timebase uint32, packets ...packetSpec) []byte {
	b := []byte(magic)
	b = le32(b, timebase)
	b = le32(b, 0)
	b = le32(b, 0)
	b = le32(b, uint32(len(packets)))
	for _, p := range packets {
		b = le32(b, p.pid)
		b = le32(b, p.nid)
		b = le32(b, 0)
		b = le32(b, uint32(len(p.payload)))
		b = append(b, p.payload...)
		for i := len(p.payload); i%4 != 0; i++ {
			b = append(b, 0)
		}
	}
	return b
}

// record builds one 12-byte event record. param[3] is byte 11, which carries
// the type tag.
func record(delta uint32, param [4]byte) []byte {
	var b []byte
	b = le32(b, delta)
	b = le32(b, 0)
	return append(b, param[:]...)
}

func noteOn(delta uint32, key, vel byte) []byte {
	return record(delta, [4]byte{0x90, key, vel, 0})
}

func TestHeaderRejection(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("WMSD"),
		msdFile(480)[:19],
		bytes.Repeat([]byte{0}, 20),
		append([]byte("DSMW"), bytes.Repeat([]byte{0}, 16)...),
	}
	for _, c := range cases {
		if _, err := Convert(c, LoopMarkerMeta); err != ErrInvalidFormat {
			t.Errorf("Convert(% x): err = %v, want ErrInvalidFormat", c, err)
		}
		dst := []byte{0xAA, 0xAA}
		n, err := ConvertTo(dst, c, LoopMarkerMeta)
		if n != 0 || err != ErrInvalidFormat {
			t.Errorf("ConvertTo(% x): n = %d, err = %v, want ErrInvalidFormat", c, n, err)
		}
		if !bytes.Equal(dst, []byte{0xAA, 0xAA}) {
			t.Errorf("ConvertTo(% x): output buffer mutated", c)
		}
	}
}

func TestEmptyContainer(t *testing.T) {
	out, err := Convert(msdFile(480), LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 0, 0, 1, 0x01, 0xE0,
		'M', 'T', 'r', 'k', 0, 0, 0, 4, 0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out, want) {
		t.Fatalf("Convert = % x, want % x", out, want)
	}
}

func TestSingleNote(t *testing.T) {
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: noteOn(0, 60, 100)})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestLoopMarkersMeta(t *testing.T) {
	in := msdFile(480,
		packetSpec{pid: 1, nid: 2, payload: noteOn(0, 60, 100)},
		packetSpec{pid: 2, nid: 2, payload: noteOn(0, 62, 100)},
	)
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x90, 60, 100}
	want = append(want, 0x00, 0xFF, 0x06, 9)
	want = append(want, "loopStart"...)
	want = append(want, 0x00, 0x90, 62, 100)
	want = append(want, 0x00, 0xFF, 0x06, 7)
	want = append(want, "loopEnd"...)
	want = append(want, 0x00, 0xFF, 0x2F, 0x00)
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestLoopMarkersController(t *testing.T) {
	in := msdFile(480,
		packetSpec{pid: 1, nid: 2, payload: noteOn(0, 60, 100)},
		packetSpec{pid: 2, nid: 2, payload: noteOn(0, 62, 100)},
	)
	out, err := Convert(in, LoopMarkerController)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x90, 60, 100,
		0x00, 0xB0, 111, 0x00,
		0x00, 0x90, 62, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestLoopMarkerExclusivity(t *testing.T) {
	// Every packet id matches the last node id; the latch must fire once.
	in := msdFile(480,
		packetSpec{pid: 7, nid: 7, payload: noteOn(0, 60, 100)},
		packetSpec{pid: 7, nid: 7, payload: noteOn(0, 62, 100)},
		packetSpec{pid: 7, nid: 7, payload: noteOn(0, 64, 100)},
	)
	for _, style := range []LoopStyle{LoopMarkerMeta, LoopMarkerController} {
		out, err := Convert(in, style)
		if err != nil {
			t.Fatal(err)
		}
		starts := bytes.Count(out, []byte("loopStart")) + bytes.Count(out, []byte{0xB0, 111, 0})
		if starts != 1 {
			t.Errorf("style %d: %d loop start markers, want 1", style, starts)
		}
		ends := bytes.Count(out, []byte("loopEnd"))
		wantEnds := 0
		if style == LoopMarkerMeta {
			wantEnds = 1
		}
		if ends != wantEnds {
			t.Errorf("style %d: %d loop end markers, want %d", style, ends, wantEnds)
		}
	}
}

func TestTempoEvent(t *testing.T) {
	// 500000 us per quarter is 0x07A120, stored byte-reversed in the record.
	in := msdFile(480, packetSpec{pid: 1, nid: 2,
		payload: record(0, [4]byte{0x20, 0xA1, 0x07, 0x01})})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestSysExEvent(t *testing.T) {
	data := []byte{0xF0, 0x43, 0x12, 0x00, 0xF7}
	payload := record(0, [4]byte{byte(len(data)), 0, 0, 0x80})
	payload = append(payload, data...)
	payload = append(payload, 0, 0, 0) // inlined data is 4-byte aligned
	payload = append(payload, noteOn(10, 60, 100)...)
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: payload})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0xF0, 0x04, 0x43, 0x12, 0x00, 0xF7,
		0x0A, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestSysExTruncated(t *testing.T) {
	// The declared length exceeds the payload; the packet ends there.
	payload := record(0, [4]byte{0xFF, 0, 0, 0x80})
	payload = append(payload, 1, 2, 3, 4)
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: payload})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0xFF, 0x2F, 0x00}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestSkipRecordCoalescesDelta(t *testing.T) {
	// A 16-byte skip record (covering itself plus 4 trailing bytes) emits
	// nothing; its delta joins the next event's.
	payload := record(10, [4]byte{16, 0, 0, 0x90})
	payload = append(payload, 0xDE, 0xAD, 0xBE, 0xEF)
	payload = append(payload, noteOn(5, 60, 100)...)
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: payload})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x0F, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestPaddingRecordCoalescesDelta(t *testing.T) {
	// Type 2 matches no branch: consumed, nothing emitted, delta kept.
	payload := record(100, [4]byte{0, 0, 0, 2})
	payload = append(payload, record(100, [4]byte{0, 0, 0, 2})...)
	payload = append(payload, noteOn(56, 60, 100)...)
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: payload})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x82, 0x00, 0x90, 60, 100, // delta 256
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestMetaEscapeDropped(t *testing.T) {
	// Type 0 with a 0xFF status byte is not a short message.
	payload := record(0, [4]byte{0xFF, 0x51, 0x03, 0})
	payload = append(payload, noteOn(0, 60, 100)...)
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: payload})
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestTruncatedPacketTolerated(t *testing.T) {
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: noteOn(0, 60, 100)})
	// Declare a second packet but cut it off mid-header.
	in[0x10] = 2
	in = append(in, 1, 2, 3)
	out, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
	}
	if !bytes.Equal(out[22:], want) {
		t.Fatalf("track = % x, want % x", out[22:], want)
	}
}

func TestConvertTo(t *testing.T) {
	in := msdFile(480, packetSpec{pid: 1, nid: 2, payload: noteOn(0, 60, 100)})
	want, err := Convert(in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}

	small := bytes.Repeat([]byte{0xAA}, len(want)-1)
	if n, err := ConvertTo(small, in, LoopMarkerMeta); err != ErrBufferTooSmall {
		t.Fatalf("ConvertTo(small): n = %d, err = %v, want ErrBufferTooSmall", n, err)
	}
	if !bytes.Equal(small, bytes.Repeat([]byte{0xAA}, len(want)-1)) {
		t.Fatal("ConvertTo(small): output buffer mutated")
	}

	big := make([]byte, 2*len(in)+64)
	n, err := ConvertTo(big, in, LoopMarkerMeta)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) || !bytes.Equal(big[:n], want) {
		t.Fatalf("ConvertTo = % x, want % x", big[:n], want)
	}
}

func TestSizeAccounting(t *testing.T) {
	inputs := [][]byte{
		msdFile(480),
		msdFile(96, packetSpec{pid: 1, nid: 1, payload: noteOn(0, 60, 100)}),
		msdFile(480,
			packetSpec{pid: 1, nid: 2, payload: append(noteOn(0, 60, 100), noteOn(30, 62, 90)...)},
			packetSpec{pid: 2, nid: 3, payload: noteOn(480, 64, 80)},
		),
	}
	for _, in := range inputs {
		out, err := Convert(in, LoopMarkerMeta)
		if err != nil {
			t.Fatal(err)
		}
		f, err := midi.Parse(out)
		if err != nil {
			t.Fatalf("output does not parse: %v", err)
		}
		if f.Head.Format != 0 || f.Head.NTracks != 1 || len(f.Tracks) != 1 {
			t.Errorf("head = %+v with %d tracks", f.Head, len(f.Tracks))
		}
		if len(out) != 22+len(f.Tracks[0].Data) {
			t.Errorf("len(out) = %d, want %d", len(out), 22+len(f.Tracks[0].Data))
		}
	}
}

func TestEndOfTrackInvariant(t *testing.T) {
	inputs := [][]byte{
		msdFile(480),
		msdFile(480, packetSpec{pid: 1, nid: 1, payload: noteOn(0, 60, 100)}),
		msdFile(480,
			packetSpec{pid: 1, nid: 2, payload: record(10, [4]byte{0x20, 0xA1, 0x07, 0x01})},
			packetSpec{pid: 2, nid: 2, payload: noteOn(0, 62, 100)},
		),
	}
	for _, in := range inputs {
		for _, style := range []LoopStyle{LoopMarkerMeta, LoopMarkerController} {
			out, err := Convert(in, style)
			if err != nil {
				t.Fatal(err)
			}
			f, err := midi.Parse(out)
			if err != nil {
				t.Fatalf("output does not parse: %v", err)
			}
			evs := f.Tracks[0].Events()
			var last midi.Event
			for {
				e, err := evs.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("event iteration: %v", err)
				}
				last = e
			}
			if !last.IsMeta() || last.Data[0] != midi.MetaEndOfTrack {
				t.Errorf("style %d: last event %v, want end of track", style, last)
			}
		}
	}
}
