// Package a2s implements the connectionless A2S_INFO server query used by
// Source engine dedicated servers.
package a2s

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultPort is the conventional game/query port of a Source dedicated server.
const DefaultPort = 27015

// headerLength covers the 0xFFFFFFFF marker, the response type and the protocol byte.
const headerLength = 6

// Request is the A2S_INFO probe: marker, command string and NUL terminator.
var Request = append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, "TSource Engine Query\x00"...)

var (
	// ErrTimeout is returned when no reply arrives within the query timeout.
	ErrTimeout = errors.New("a2s: no response within timeout")

	// ErrMalformed is returned when a reply does not match the A2S_INFO layout.
	ErrMalformed = errors.New("a2s: malformed response")
)

// MalformedError describes where parsing of a reply stopped.
type MalformedError struct {
	Field  string // field being decoded
	Offset int    // byte offset in the datagram
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("a2s: malformed response: %s at offset %d (%s)", e.Reason, e.Offset, e.Field)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

// Info is a decoded A2S_INFO reply. Values are passed through as sent by the
// server; Players > MaxPlayers is not rejected here.
type Info struct {
	Protocol    byte   `json:"protocol"`
	Name        string `json:"name"`
	Map         string `json:"map"`
	Folder      string `json:"folder"`
	Game        string `json:"game"`
	AppID       uint16 `json:"app_id"`
	Players     uint8  `json:"players"`
	MaxPlayers  uint8  `json:"max_players"`
	Bots        uint8  `json:"bots"`
	ServerType  byte   `json:"server_type"` // 'd' dedicated, 'l' listen, 'p' proxy
	Environment byte   `json:"environment"` // 'l' linux, 'w' windows, 'm'/'o' mac
	Visibility  uint8  `json:"visibility"`  // 1 when password protected
	VAC         uint8  `json:"vac"`
	Version     string `json:"version"`
}

// Empty reports whether no players are connected.
func (i *Info) Empty() bool {
	return i.Players == 0
}

// Parse decodes an A2S_INFO reply datagram. Bytes following the version
// string (the extra data section) are ignored.
func Parse(b []byte) (*Info, error) {
	if len(b) < headerLength {
		return nil, &MalformedError{Field: "header", Offset: len(b), Reason: fmt.Sprintf("short datagram (%d bytes)", len(b))}
	}

	r := &reader{data: b, index: headerLength}
	info := &Info{Protocol: b[headerLength-1]}

	var err error
	if info.Name, err = r.readString("name"); err != nil {
		return nil, err
	}
	if info.Map, err = r.readString("map"); err != nil {
		return nil, err
	}
	if info.Folder, err = r.readString("folder"); err != nil {
		return nil, err
	}
	if info.Game, err = r.readString("game"); err != nil {
		return nil, err
	}
	if info.AppID, err = r.readShort("app_id"); err != nil {
		return nil, err
	}

	singles := []struct {
		field string
		dst   *uint8
	}{
		{"players", &info.Players},
		{"max_players", &info.MaxPlayers},
		{"bots", &info.Bots},
		{"server_type", &info.ServerType},
		{"environment", &info.Environment},
		{"visibility", &info.Visibility},
		{"vac", &info.VAC},
	}
	for _, f := range singles {
		if *f.dst, err = r.readByte(f.field); err != nil {
			return nil, err
		}
	}

	if info.Version, err = r.readString("version"); err != nil {
		return nil, err
	}

	return info, nil
}

// reader is a bounds-checked cursor over a reply datagram.
type reader struct {
	data  []byte
	index int
}

// readString reads until the next NUL and consumes it.
func (r *reader) readString(field string) (string, error) {
	for i := r.index; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.index:i])
			r.index = i + 1
			return s, nil
		}
	}
	return "", &MalformedError{Field: field, Offset: r.index, Reason: "missing string terminator"}
}

func (r *reader) readByte(field string) (byte, error) {
	if r.index >= len(r.data) {
		return 0, &MalformedError{Field: field, Offset: r.index, Reason: "short read"}
	}
	b := r.data[r.index]
	r.index++
	return b, nil
}

// readShort reads two bytes as a little-endian uint16.
func (r *reader) readShort(field string) (uint16, error) {
	if r.index+2 > len(r.data) {
		return 0, &MalformedError{Field: field, Offset: r.index, Reason: "short read"}
	}
	v := binary.LittleEndian.Uint16(r.data[r.index:])
	r.index += 2
	return v, nil
}
