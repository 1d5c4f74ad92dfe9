package websocket

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Transport abstracts the byte stream a Conn drives frames over (spec.md
// Section 6). netTransport is the only implementation shipped here, wrapping
// a net.Conn the way the reference wraps IIS's async request I/O. Upgrade is
// the only exported way to obtain a Conn and it always uses netTransport;
// newConn, which accepts any Transport, is unexported, so other
// implementations (such as the tests' fakeTransport) live inside this
// package.
type Transport interface {
	// Read fills dst with whatever is immediately available, up to
	// len(dst) bytes. A zero-byte, nil-error result means "try again";
	// it is not end-of-stream.
	Read(dst []byte) (n int, err error)

	// WriteChunk writes src and reports how much was accepted.
	WriteChunk(src []byte) (n int, err error)

	// Flush pushes any buffered output to the wire.
	Flush() error

	// IsConnected reports whether the transport believes the peer is
	// still reachable. It never blocks.
	IsConnected() bool

	// Close releases the underlying connection.
	Close() error
}

// netTransport is the default Transport, a buffered net.Conn. Go's net.Conn
// Read blocks until data or an error is available, so this transport never
// produces the reference's ERROR_MORE_DATA / ERROR_HANDLE_EOF transients;
// acquireHeader and readPayload still tolerate them (errMoreData,
// errHandleEOF), for a non-blocking Transport defined in this package.
type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	closed atomic.Bool
}

func newNetTransport(conn net.Conn, readBufSize, writeBufSize int) *netTransport {
	return &netTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufSize),
		writer: bufio.NewWriterSize(conn, writeBufSize),
	}
}

func (t *netTransport) Read(dst []byte) (int, error) {
	n, err := t.reader.Read(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.closed.Store(true)
		}
		return n, err
	}
	return n, nil
}

func (t *netTransport) WriteChunk(src []byte) (int, error) {
	return t.writer.Write(src)
}

func (t *netTransport) Flush() error {
	return t.writer.Flush()
}

func (t *netTransport) IsConnected() bool {
	return !t.closed.Load()
}

func (t *netTransport) Close() error {
	t.closed.Store(true)
	return t.conn.Close()
}

// Metrics is the observation hook the websocket package calls into on the
// hot path (spec.md Section 5's external interfaces). It is defined here,
// not in the metrics package, so this package never imports metrics or
// registry (spec.md Section 9's one-directional dependency rule) — a host
// wires a concrete implementation in through UpgradeOptions.
type Metrics interface {
	HandshakeAccepted()
	HandshakeRejected(reason string)
	FrameReceived(bt BufferType, payloadLen int)
	FrameSent(bt BufferType, payloadLen int)
	ConnectionClosed(code CloseCode)
}

// Conn drives the RFC 6455 frame state machine over one Transport. Its core
// surface is Receive, Send, IsConnected, and Free: the call-driven
// primitives from spec.md Section 4.4/4.5. ReadMessage, WriteMessage and the
// other helpers in message_io.go (WriteText, WriteBinary, Ping, Pong, Close)
// are a fragment-reassembling convenience layer built on top, for hosts that
// want whole messages instead.
type Conn struct {
	transport Transport
	isServer  bool
	metrics   Metrics

	maxPayloadLength uint64

	writeMu   sync.Mutex
	inFragment bool

	closeMu sync.RWMutex
	closed  bool

	// Receive state machine (spec.md Section 3).
	queuing             bool
	headerScratch       *bytebufferpool.ByteBuffer
	headerBytesReceived int
	currentFrame        frameHeader
	payloadRemaining    uint64
	maskIndex           uint64
	lastDataKind        dataKind
}

// scratchPool recycles the small buffers acquireHeader accumulates frame
// headers into.
var scratchPool bytebufferpool.Pool

func newConn(transport Transport, isServer bool, maxPayloadLength uint64, metrics Metrics) *Conn {
	if maxPayloadLength == 0 {
		maxPayloadLength = DefaultMaxPayloadLength
	}
	return &Conn{
		transport:        transport,
		isServer:         isServer,
		metrics:          metrics,
		maxPayloadLength: maxPayloadLength,
		queuing:          true,
		headerScratch:    scratchPool.Get(),
	}
}

// DefaultMaxPayloadLength is the engine's default per-frame payload ceiling
// when UpgradeOptions.MaxPayloadLength is left at zero (spec.md Section 9,
// Open Question 3): 4 MiB, not the stale "4 GB" the reference's comment
// claimed.
const DefaultMaxPayloadLength = 4 * 1024 * 1024

// Receive fills out with the next slice of frame data and reports what kind
// of buffer it just delivered (spec.md Section 4.4). It implements Phases
// A-E of the receive state machine: header acquisition, payload streaming,
// the control-frame single-buffer rule, unmasking, and buffer-type
// classification. A single call may return less than len(out) for a data
// frame; it never does for a control frame, which is always delivered whole
// or fails with KindInsufficientBuffer.
func (c *Conn) Receive(out []byte) (int, BufferType, error) {
	c.closeMu.RLock()
	closed := c.closed
	c.closeMu.RUnlock()
	if closed {
		return 0, 0, newError("Receive", KindInvalidOperation, ErrClosed)
	}
	if len(out) == 0 {
		return 0, 0, newError("Receive", KindInvalidParameter, errors.New("zero-length buffer"))
	}

	if c.queuing {
		if err := c.acquireHeader(); err != nil {
			return 0, 0, err
		}
	}

	filled := 0
	for {
		toRead := c.payloadRemaining
		if avail := uint64(len(out) - filled); toRead > avail {
			toRead = avail
		}

		var n int
		if toRead > 0 {
			var err error
			n, err = c.readPayload(out[filled : filled+int(toRead)])
			if err != nil {
				return filled, 0, err
			}
		}

		if n > 0 && c.currentFrame.masked {
			c.maskIndex = applyMaskFrom(out[filled:filled+n], c.currentFrame.maskingKey, c.maskIndex)
		}

		filled += n
		c.payloadRemaining -= uint64(n)

		if c.payloadRemaining > 0 && isControlFrame(c.currentFrame.opcode) {
			if filled == len(out) {
				return filled, 0, newError("Receive", KindInsufficientBuffer, ErrBufferTooSmall)
			}
			continue
		}
		break
	}

	bt := c.classify()
	if c.metrics != nil {
		c.metrics.FrameReceived(bt, filled)
	}
	return filled, bt, nil
}

// readPayload issues one transport read for exactly len(dst) bytes,
// swallowing the non-fatal "more data may arrive" transients so a
// non-blocking Transport can busy-wait without that leaking into the state
// machine's bookkeeping.
func (c *Conn) readPayload(dst []byte) (int, error) {
	n, err := c.transport.Read(dst)
	if err != nil {
		if errors.Is(err, errMoreData) || errors.Is(err, errHandleEOF) {
			return n, nil
		}
		return n, newError("Receive", KindTransportFailure, err)
	}
	return n, nil
}

// acquireHeader is Phase A: accumulate bytes into headerScratch until
// parseFrameHeader succeeds, growing the request size exactly as far as the
// parser says to (spec.md Section 9, Open Question 1 — the first request
// into an empty stream explicitly asks for minHeaderSize, not whatever a
// prior call happened to leave lying around).
func (c *Conn) acquireHeader() error {
	c.headerBytesReceived = 0
	want := minHeaderSize

	for {
		if cap(c.headerScratch.B) < want {
			grown := make([]byte, want)
			copy(grown, c.headerScratch.B)
			c.headerScratch.B = grown
		} else if len(c.headerScratch.B) < want {
			c.headerScratch.B = c.headerScratch.B[:want]
		}

		for c.headerBytesReceived < want {
			n, err := c.transport.Read(c.headerScratch.B[c.headerBytesReceived:want])
			if err != nil {
				if errors.Is(err, errMoreData) || errors.Is(err, errHandleEOF) {
					continue
				}
				return newError("Receive", KindTransportFailure, err)
			}
			c.headerBytesReceived += n
		}

		h, _, err := parseFrameHeader(c.headerScratch.B[:c.headerBytesReceived])
		if err == nil {
			if h.payloadLength > c.maxPayloadLength {
				return newError("Receive", KindInvalidBlockLength,
					fmt.Errorf("%w: %s frame payload %d exceeds max %d",
						ErrPayloadTooLarge, h.opcodeName(), h.payloadLength, c.maxPayloadLength))
			}
			c.currentFrame = h
			c.payloadRemaining = h.payloadLength
			c.maskIndex = 0
			c.queuing = false
			return nil
		}

		var nm *needMore
		if errors.As(err, &nm) {
			want = nm.suggested
			continue
		}
		return newError("Receive", KindInvalidOperation, err)
	}
}

// classify is Phase E: decide what BufferType the bytes Receive just
// delivered represent, and update lastDataKind/queuing for next time
// (spec.md Section 9, Open Question 2 — a non-FIN data frame is always a
// Fragment, even when its own payload was fully delivered in this call;
// only the FIN frame ever reports …Message).
func (c *Conn) classify() BufferType {
	op := c.currentFrame.opcode

	if c.payloadRemaining > 0 {
		// Phase C guarantees control frames are always delivered whole, so
		// payloadRemaining > 0 here only ever happens for a data frame.
		if !isDataFrame(op) {
			return c.fragmentTypeFromKind()
		}
		switch op {
		case opcodeText:
			c.lastDataKind = kindText
			return UtfFragment
		case opcodeBinary:
			c.lastDataKind = kindBinary
			return BinaryFragment
		default: // opcodeContinuation
			return c.fragmentTypeFromKind()
		}
	}

	c.queuing = true

	if !c.currentFrame.fin {
		switch op {
		case opcodeText:
			c.lastDataKind = kindText
			return UtfFragment
		case opcodeBinary:
			c.lastDataKind = kindBinary
			return BinaryFragment
		default:
			return c.fragmentTypeFromKind()
		}
	}

	switch op {
	case opcodeText:
		return UtfMessage
	case opcodeBinary:
		return BinaryMessage
	case opcodeContinuation:
		bt := c.messageTypeFromKind()
		c.lastDataKind = kindNone
		return bt
	case opcodeClose:
		return Close
	case opcodePing:
		return Ping
	default:
		return Pong
	}
}

func (c *Conn) fragmentTypeFromKind() BufferType {
	if c.lastDataKind == kindText {
		return UtfFragment
	}
	return BinaryFragment
}

func (c *Conn) messageTypeFromKind() BufferType {
	if c.lastDataKind == kindText {
		return UtfMessage
	}
	return BinaryMessage
}

// Send serializes payload as bufferType and writes it to the transport
// (spec.md Section 4.5). Concurrent Send calls are serialized; RFC 6455
// Section 5.1 forbids interleaving a data frame with an in-progress
// fragmented message, so overlapping Send calls during fragmentation would
// be a caller bug rather than something this method tries to police beyond
// serializeFrame's opcode/FIN table.
func (c *Conn) Send(bufferType BufferType, payload []byte) error {
	c.closeMu.RLock()
	closed := c.closed
	c.closeMu.RUnlock()
	if closed {
		return newError("Send", KindInvalidOperation, ErrClosed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	buf, nextInFragment, err := serializeFrame(bufferType, c.inFragment, payload)
	if err != nil {
		kind := KindInvalidParameter
		if errors.Is(err, ErrControlTooLarge) {
			kind = KindNotEnoughMemory
		}
		return newError("Send", kind, err)
	}
	defer frameBufPool.Put(buf)

	if err := c.writeAll(buf.B); err != nil {
		return err
	}
	c.inFragment = nextInFragment

	if c.metrics != nil {
		c.metrics.FrameSent(bufferType, len(payload))
	}
	return nil
}

func (c *Conn) writeAll(data []byte) error {
	for offset := 0; offset < len(data); {
		n, err := c.transport.WriteChunk(data[offset:])
		if err != nil {
			return newError("Send", KindTransportFailure, err)
		}
		if n == 0 {
			return newError("Send", KindTransportFailure, errors.New("transport accepted zero bytes"))
		}
		offset += n
	}
	if err := c.transport.Flush(); err != nil {
		return newError("Send", KindTransportFailure, err)
	}
	return nil
}

// IsConnected reports whether the underlying transport still believes the
// peer is reachable. It does not perform I/O.
func (c *Conn) IsConnected() bool {
	return c.transport.IsConnected()
}

// Free releases the connection's pooled buffers and closes the transport.
// It is idempotent, matching the reference's Free() semantics, and should
// be deferred immediately after a successful Upgrade.
func (c *Conn) Free() {
	c.closeMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	scratch := c.headerScratch
	c.headerScratch = nil
	c.closeMu.Unlock()

	if scratch != nil {
		scratchPool.Put(scratch)
	}
	if !alreadyClosed {
		if c.metrics != nil {
			c.metrics.ConnectionClosed(CloseNoStatusReceived)
		}
		_ = c.transport.Close()
	}
}

// opcodeName renders a frameHeader's opcode for diagnostics without
// depending on fmt in the hot parse path.
func (h frameHeader) opcodeName() string {
	switch h.opcode {
	case opcodeContinuation:
		return "continuation"
	case opcodeText:
		return "text"
	case opcodeBinary:
		return "binary"
	case opcodeClose:
		return "close"
	case opcodePing:
		return "ping"
	case opcodePong:
		return "pong"
	default:
		return "unknown"
	}
}
