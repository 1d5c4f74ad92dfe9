package websocket

import (
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125 // 0-125: stored directly in the 7-bit length field
	payloadLen16Bit = 126 // 126: followed by a 16-bit extended length
	payloadLen64Bit = 127 // 127: followed by a 64-bit extended length

	// maxControlPayload is the RFC 6455 Section 5.5 limit for control frames.
	maxControlPayload = 125

	// minHeaderSize is the smallest possible frame header (spec.md Section 9,
	// Open Question 1): the first read request into an empty stream always
	// asks for exactly this many bytes, never piggy-backing on a parser
	// side effect.
	minHeaderSize = 2
)

// frameHeader is the parsed representation of one frame header, per
// spec.md Section 3.
type frameHeader struct {
	opcode           byte
	fin              bool
	rsv1, rsv2, rsv3 bool
	masked           bool
	maskingKey       [4]byte
	payloadLength    uint64
	headerSize       int
}

// needMore signals that fewer than suggested bytes are available to parse a
// full header (spec.md Section 4.3, steps 1 and 5). It is not a protocol
// error; Phase A of the receive state machine requests more bytes and
// retries.
type needMore struct {
	suggested int
}

func (n *needMore) Error() string {
	return fmt.Sprintf("need at least %d bytes", n.suggested)
}

// parseFrameHeader decodes one frame header from buf, a pure function over
// a byte slice (spec.md Section 4.3). It never reads past the header: the
// payload itself is streamed separately by the receive state machine.
//
// Returns the parsed header and the exact number of header bytes consumed,
// or a *needMore error carrying the minimum byte count the caller should
// accumulate before calling again.
func parseFrameHeader(buf []byte) (frameHeader, int, error) {
	if len(buf) < minHeaderSize {
		return frameHeader{}, 0, &needMore{suggested: minHeaderSize}
	}

	h := frameHeader{
		fin:    buf[0]&0x80 != 0,
		rsv1:   buf[0]&0x40 != 0,
		rsv2:   buf[0]&0x20 != 0,
		rsv3:   buf[0]&0x10 != 0,
		opcode: buf[0] & 0x0F,
		masked: buf[1]&0x80 != 0,
	}

	if !isValidOpcode(h.opcode) {
		return frameHeader{}, 0, fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, h.opcode)
	}

	length7 := buf[1] & 0x7F

	headerSize := minHeaderSize
	if h.masked {
		headerSize += 4
	}
	switch length7 {
	case payloadLen16Bit:
		headerSize += 2
	case payloadLen64Bit:
		headerSize += 8
	}

	if len(buf) < headerSize {
		return frameHeader{}, 0, &needMore{suggested: headerSize}
	}

	switch length7 {
	case payloadLen16Bit:
		h.payloadLength = uint64(binary.BigEndian.Uint16(buf[2:4]))
	case payloadLen64Bit:
		h.payloadLength = binary.BigEndian.Uint64(buf[2:10])
	default:
		h.payloadLength = uint64(length7)
	}

	if h.masked {
		copy(h.maskingKey[:], buf[headerSize-4:headerSize])
	}

	h.headerSize = headerSize
	return h, headerSize, nil
}

// applyMaskFrom XORs data in place with mask, continuing from a running
// offset so the mask index can roam correctly across multiple Receive calls
// within one frame (spec.md Section 4.4, Phase D). It returns the offset to
// resume from on the next call.
func applyMaskFrom(data []byte, mask [4]byte, offset uint64) uint64 {
	for i := range data {
		data[i] ^= mask[(offset+uint64(i))%4]
	}
	return offset + uint64(len(data))
}

// frameBufPool recycles the header+payload buffers the serializer builds,
// so repeated small sends do not allocate (spec.md Section 4.5's "single
// buffer of header_size + length").
var frameBufPool bytebufferpool.Pool

// opcodeFinForSend returns the outbound opcode and FIN bit for bufferType,
// and the in_fragment state that should follow, per spec.md Section 4.5's
// table. Close/Ping/Pong always carry FIN=1 and leave in_fragment untouched.
func opcodeFinForSend(bufferType BufferType, inFragment bool) (opcode byte, fin bool, nextInFragment bool, err error) {
	switch bufferType {
	case UtfMessage:
		if inFragment {
			return opcodeContinuation, true, false, nil
		}
		return opcodeText, true, false, nil
	case UtfFragment:
		if inFragment {
			return opcodeContinuation, false, true, nil
		}
		return opcodeText, false, true, nil
	case BinaryMessage:
		if inFragment {
			return opcodeContinuation, true, false, nil
		}
		return opcodeBinary, true, false, nil
	case BinaryFragment:
		if inFragment {
			return opcodeContinuation, false, true, nil
		}
		return opcodeBinary, false, true, nil
	case Close:
		return opcodeClose, true, inFragment, nil
	case Ping:
		return opcodePing, true, inFragment, nil
	case Pong:
		return opcodePong, true, inFragment, nil
	default:
		return 0, false, inFragment, fmt.Errorf("%w: %v", ErrInvalidMessageType, bufferType)
	}
}

// serializeFrame builds one outbound frame per spec.md Section 4.5: never
// masked (server-to-client rule), header size 2/4/10 bytes depending on
// payload length. The returned *bytebufferpool.ByteBuffer must be released
// with frameBufPool.Put after the transport write completes.
func serializeFrame(bufferType BufferType, inFragment bool, payload []byte) (*bytebufferpool.ByteBuffer, bool, error) {
	opcode, fin, nextInFragment, err := opcodeFinForSend(bufferType, inFragment)
	if err != nil {
		return nil, inFragment, err
	}

	if isControlFrame(opcode) && len(payload) > maxControlPayload {
		return nil, inFragment, fmt.Errorf("%w: %d bytes", ErrControlTooLarge, len(payload))
	}

	buf := frameBufPool.Get()

	first := opcode & 0x0F
	if fin {
		first |= 0x80
	}

	length := len(payload)
	switch {
	case length <= payloadLen7Bit:
		buf.B = append(buf.B, first, byte(length))
	case length <= 0xFFFF:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(length))
		buf.B = append(buf.B, first, payloadLen16Bit)
		buf.B = append(buf.B, ext...)
	default:
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(length))
		buf.B = append(buf.B, first, payloadLen64Bit)
		buf.B = append(buf.B, ext...)
	}

	buf.B = append(buf.B, payload...)

	return buf, nextInFragment, nil
}
