package websocket

import (
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

// ReadMessage reassembles fragments via repeated Receive calls and returns
// one complete message, the convenience layer the reference's Conn.Read
// offered on top of frame-at-a-time delivery. Control frames encountered
// while assembling a message are returned immediately rather than buffered.
//
// The returned byte slice is owned by the caller; ReadMessage copies out of
// its internal scratch buffer before returning.
func (c *Conn) ReadMessage(maxMessageLength int) (BufferType, []byte, error) {
	scratch := scratchPool.Get()
	defer scratchPool.Put(scratch)

	chunk := make([]byte, 4096)

	for {
		n, bt, err := c.Receive(chunk)
		if err != nil {
			return 0, nil, err
		}

		switch bt {
		case Close, Ping, Pong:
			payload := append([]byte(nil), chunk[:n]...)
			return bt, payload, nil

		case BinaryFragment, UtfFragment:
			scratch.B = append(scratch.B, chunk[:n]...)
			if maxMessageLength > 0 && len(scratch.B) > maxMessageLength {
				return 0, nil, newError("ReadMessage", KindInvalidBlockLength, ErrPayloadTooLarge)
			}
			continue

		case BinaryMessage:
			scratch.B = append(scratch.B, chunk[:n]...)
			out := append([]byte(nil), scratch.B...)
			return BinaryMessage, out, nil

		case UtfMessage:
			scratch.B = append(scratch.B, chunk[:n]...)
			if !utf8.Valid(scratch.B) {
				return 0, nil, newError("ReadMessage", KindInvalidParameter, ErrInvalidUTF8)
			}
			out := append([]byte(nil), scratch.B...)
			return UtfMessage, out, nil
		}
	}
}

// WriteMessage sends payload as a single, unfragmented frame of the given
// BufferType. Hosts that need to stream a large payload across multiple
// Send calls should drive Send directly with the …Fragment/…Message
// BufferType pair instead.
func (c *Conn) WriteMessage(bufferType BufferType, payload []byte) error {
	if bufferType == UtfMessage && !utf8.Valid(payload) {
		return newError("WriteMessage", KindInvalidParameter, ErrInvalidUTF8)
	}
	return c.Send(bufferType, payload)
}

// WriteText is a WriteMessage convenience for UTF-8 text.
func (c *Conn) WriteText(text string) error {
	return c.WriteMessage(UtfMessage, []byte(text))
}

// WriteBinary is a WriteMessage convenience for arbitrary bytes.
func (c *Conn) WriteBinary(data []byte) error {
	return c.WriteMessage(BinaryMessage, data)
}

// Ping sends a whole ping control frame. data must be 125 bytes or fewer.
func (c *Conn) Ping(data []byte) error {
	return c.Send(Ping, data)
}

// Pong sends a whole pong control frame, normally echoing a received ping's
// payload.
func (c *Conn) Pong(data []byte) error {
	return c.Send(Pong, data)
}

// Close sends a close frame carrying code and reason, then marks the
// connection closed and closes its transport; the pooled header scratch
// buffer is released by Free. It is idempotent: a second call observes the
// connection already closed and returns ErrClosed without writing again.
func (c *Conn) Close(code CloseCode, reason string) error {
	c.closeMu.RLock()
	closed := c.closed
	c.closeMu.RUnlock()
	if closed {
		return newError("Close", KindInvalidOperation, ErrClosed)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = append(buf.B, byte(code>>8), byte(code&0xFF))
	buf.B = append(buf.B, reason...)

	sendErr := c.Send(Close, buf.B)

	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	if c.metrics != nil {
		c.metrics.ConnectionClosed(code)
	}
	_ = c.transport.Close()

	return sendErr
}
