package uart

import (
	"encoding/binary"

	"github.com/dbehnke/companionlink/internal/protocol"
)

// maxStatusLength bounds an unterminated status line before the decoder
// gives up on it and resyncs.
const maxStatusLength = 64

type messageKind int

const (
	messageStatus messageKind = iota
	messageFrame
)

type message struct {
	kind    messageKind
	status  string
	payload []byte
}

// decoder splits the module byte stream into CRLF terminated status lines
// (OK+CONN, OK+LOST, OK+Set:..., ERROR) and '<' framed payloads. Bytes that
// start neither are discarded.
type decoder struct {
	buf       []byte
	discarded int
}

func (d *decoder) feed(p []byte) []message {
	d.buf = append(d.buf, p...)

	var out []message
	for len(d.buf) > 0 {
		switch d.buf[0] {
		case protocol.FRAME_MARKER_INBOUND:
			if len(d.buf) < protocol.FRAME_HEADER_LENGTH {
				return out
			}
			n := int(binary.LittleEndian.Uint16(d.buf[1:protocol.FRAME_HEADER_LENGTH]))
			end := protocol.FRAME_HEADER_LENGTH + n
			if len(d.buf) < end {
				return out
			}
			if n > 0 {
				payload := make([]byte, n)
				copy(payload, d.buf[protocol.FRAME_HEADER_LENGTH:end])
				out = append(out, message{kind: messageFrame, payload: payload})
			}
			d.buf = d.buf[end:]

		case 'O', 'E':
			end := statusEnd(d.buf)
			switch {
			case end > 0:
				out = append(out, message{kind: messageStatus, status: string(d.buf[:end])})
				d.buf = d.buf[end+2:]
			case end < 0 || len(d.buf) > maxStatusLength:
				d.buf = d.buf[1:]
				d.discarded++
			default:
				return out
			}

		default:
			d.buf = d.buf[1:]
			d.discarded++
		}
	}
	d.buf = nil
	return out
}

// statusEnd returns the index of the CRLF ending the status line at the
// start of buf, 0 while the line is incomplete and -1 when buf does not hold
// a printable line.
func statusEnd(buf []byte) int {
	for i := 1; i < len(buf); i++ {
		b := buf[i]
		switch {
		case b == '\r':
			if i+1 == len(buf) {
				return 0
			}
			if buf[i+1] == '\n' {
				return i
			}
			return -1
		case b == protocol.FRAME_MARKER_INBOUND || b < 0x20 || b > 0x7E:
			return -1
		}
	}
	return 0
}

// encodeFrame wraps payload in the outbound framing
func encodeFrame(payload []byte) []byte {
	out := make([]byte, protocol.FRAME_HEADER_LENGTH+len(payload))
	out[0] = protocol.FRAME_MARKER_OUTBOUND
	binary.LittleEndian.PutUint16(out[1:protocol.FRAME_HEADER_LENGTH], uint16(len(payload)))
	copy(out[protocol.FRAME_HEADER_LENGTH:], payload)
	return out
}
