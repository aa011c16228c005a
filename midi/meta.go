package midi

import "fmt"

// Meta event types.
const (
	MetaText       = 0x01
	MetaTrackName  = 0x03
	MetaMarker     = 0x06
	MetaEndOfTrack = 0x2F
	MetaSetTempo   = 0x51
)

// A Meta is a decoded meta event.
type Meta struct {
	Type  uint8
	Text  string // text-carrying types
	Tempo uint32 // set tempo, in microseconds per quarter note
}

func (m Meta) String() string {
	switch m.Type {
	case MetaText:
		return fmt.Sprintf("text %q", m.Text)
	case MetaTrackName:
		return fmt.Sprintf("trackName %q", m.Text)
	case MetaMarker:
		return fmt.Sprintf("marker %q", m.Text)
	case MetaEndOfTrack:
		return "endOfTrack"
	case MetaSetTempo:
		return fmt.Sprintf("setTempo %d us/qn", m.Tempo)
	default:
		return fmt.Sprintf("meta %d", m.Type)
	}
}

// ParseMeta decodes a meta event's payload. Types the converter never emits
// return ErrUnknownMetaEvent.
func (e Event) ParseMeta() (m Meta, err error) {
	if !e.IsMeta() {
		return m, ErrInvalidEvent
	}
	m.Type = e.Data[0]
	switch m.Type {
	case MetaText, MetaTrackName, MetaMarker:
		m.Text = string(e.VData)
	case MetaEndOfTrack:
		if len(e.VData) != 0 {
			return m, ErrInvalidEvent
		}
	case MetaSetTempo:
		if len(e.VData) != 3 {
			return m, ErrInvalidEvent
		}
		m.Tempo = uint32(e.VData[0])<<16 | uint32(e.VData[1])<<8 | uint32(e.VData[2])
	default:
		return m, ErrUnknownMetaEvent
	}
	return m, nil
}
