// Package midi reads standard MIDI files: chunk structure, header fields, and
// a per-track event iterator with running status. It decodes the meta events
// that show up in converted game music (tempo, markers, end of track).
package midi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotMIDI          = errors.New("not a MIDI file")
	ErrInvalidChunks    = errors.New("invalid MIDI file chunks")
	ErrInvalidEvent     = errors.New("invalid MIDI event")
	ErrUnknownMetaEvent = errors.New("unknown meta event")
)

type chunk struct {
	id   [4]byte
	data []byte
}

func splitChunks(data []byte) ([]chunk, error) {
	var r []chunk
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, ErrInvalidChunks
		}
		var c chunk
		copy(c.id[:], data)
		n := binary.BigEndian.Uint32(data[4:])
		data = data[8:]
		if int(n) > len(data) {
			return nil, ErrInvalidChunks
		}
		c.data = data[:n]
		data = data[n:]
		r = append(r, c)
	}
	return r, nil
}

// A Head holds the MThd fields.
type Head struct {
	Format  uint16
	NTracks uint16
	TickDiv uint16
}

// A Track is one MTrk chunk's raw event data.
type Track struct {
	Data []byte
}

// A File is a parsed MIDI file.
type File struct {
	Head   Head
	Tracks []Track
}

// Parse splits a MIDI file into its header and tracks. Event data is not
// decoded until the track is iterated.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 || string(data[0:4]) != "MThd" {
		return nil, ErrNotMIDI
	}
	cks, err := splitChunks(data)
	if err != nil {
		return nil, err
	}
	if len(cks[0].data) < 6 {
		return nil, errors.New("MThd too short")
	}
	f := &File{
		Head: Head{
			Format:  binary.BigEndian.Uint16(cks[0].data),
			NTracks: binary.BigEndian.Uint16(cks[0].data[2:]),
			TickDiv: binary.BigEndian.Uint16(cks[0].data[4:]),
		},
	}
	for _, ck := range cks[1:] {
		if string(ck.id[:]) != "MTrk" {
			return nil, fmt.Errorf("unknown chunk type: %q", ck.id[:])
		}
		f.Tracks = append(f.Tracks, Track{Data: ck.data})
	}
	return f, nil
}

type EventType uint8

const (
	NoteOff       EventType = 8
	NoteOn        EventType = 9
	PolyTouch     EventType = 10
	Controller    EventType = 11
	ProgramChange EventType = 12
	ChannelTouch  EventType = 13
	PitchBend     EventType = 14
)

// An Event is one decoded track event. Time is absolute, in ticks from the
// start of the track. For meta events Status is 0xFF, Data[0] is the meta
// type and VData the payload.
type Event struct {
	Time   uint32
	Status uint8
	Data   [2]uint8
	VData  []byte
}

func (e Event) IsMeta() bool {
	return e.Status == 0xFF
}

func (e Event) String() string {
	switch EventType(e.Status >> 4) {
	case NoteOff:
		return fmt.Sprintf("noteOff ch.%d %d %d", e.Status&15, e.Data[0], e.Data[1])
	case NoteOn:
		return fmt.Sprintf("noteOn ch.%d %d %d", e.Status&15, e.Data[0], e.Data[1])
	case PolyTouch:
		return fmt.Sprintf("polyTouch ch.%d %d %d", e.Status&15, e.Data[0], e.Data[1])
	case Controller:
		return fmt.Sprintf("controller ch.%d %d %d", e.Status&15, e.Data[0], e.Data[1])
	case ProgramChange:
		return fmt.Sprintf("programChange ch.%d %d", e.Status&15, e.Data[0])
	case ChannelTouch:
		return fmt.Sprintf("channelTouch ch.%d %d", e.Status&15, e.Data[0])
	case PitchBend:
		return fmt.Sprintf("pitchBend ch.%d %d", e.Status&15, uint32(e.Data[1])<<7|uint32(e.Data[0]))
	default:
		if e.Status == 0xFF {
			return fmt.Sprintf("meta %d %q", e.Data[0], e.VData)
		}
		if e.Status == 0xF0 {
			return fmt.Sprintf("sysEx % x", e.VData)
		}
		return "<invalid>"
	}
}

// Events returns an iterator over the track's events.
func (t Track) Events() *Events {
	return &Events{data: t.Data}
}

// An Events iterates the events of one track, tracking running status and
// absolute time.
type Events struct {
	time   uint32
	status byte
	data   []byte
}

func (r *Events) readVar() (q uint32, ok bool) {
	for {
		if len(r.data) == 0 {
			return 0, false
		}
		c := r.data[0]
		r.data = r.data[1:]
		if q > ^uint32(0)>>7 {
			return 0, false
		}
		q = (q << 7) | (uint32(c) & 0x7f)
		if c&0x80 == 0 {
			return q, true
		}
		// Theoretically allowed, but non-canonical. Probably indicates an
		// error reading.
		if q == 0 {
			return 0, false
		}
	}
}

// Next returns the next event, or io.EOF at the end of the track.
func (r *Events) Next() (e Event, err error) {
	if len(r.data) == 0 {
		return e, io.EOF
	}
	delta, ok := r.readVar()
	if !ok || len(r.data) == 0 {
		return e, ErrInvalidEvent
	}
	if delta > ^r.time {
		return e, ErrInvalidEvent
	}
	r.time += delta
	e.Time = r.time
	status := r.data[0]
	if status&0x80 == 0 {
		status = r.status
		if status == 0 {
			return e, ErrInvalidEvent
		}
	} else {
		r.data = r.data[1:]
	}
	var elen int
	switch EventType(status >> 4) {
	case NoteOff, NoteOn, PolyTouch, Controller, PitchBend:
		elen = 2
	case ProgramChange, ChannelTouch:
		elen = 1
	case 15:
		switch status {
		case 0xFF:
			if len(r.data) < 1 {
				return e, ErrInvalidEvent
			}
			mt := r.data[0]
			r.data = r.data[1:]
			n, ok := r.readVar()
			if !ok || int(n) > len(r.data) {
				return e, ErrInvalidEvent
			}
			r.status = 0
			e.Status = 0xFF
			e.Data[0] = mt
			e.VData = r.data[:n]
			r.data = r.data[n:]
			return e, nil
		case 0xF0, 0xF7:
			n, ok := r.readVar()
			if !ok || int(n) > len(r.data) {
				return e, ErrInvalidEvent
			}
			r.status = 0
			e.Status = status
			e.VData = r.data[:n]
			r.data = r.data[n:]
			return e, nil
		default:
			return e, ErrInvalidEvent
		}
	default:
		return e, ErrInvalidEvent
	}
	if len(r.data) < elen {
		return e, ErrInvalidEvent
	}
	e.Status = status
	e.Data[0] = r.data[0]
	if elen == 2 {
		e.Data[1] = r.data[1]
	}
	r.data = r.data[elen:]
	r.status = status
	return e, nil
}
