package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseFrameHeader_NeedsTwoBytesMinimum(t *testing.T) {
	for n := 0; n < minHeaderSize; n++ {
		buf := make([]byte, n)
		_, _, err := parseFrameHeader(buf)
		var nm *needMore
		if !errors.As(err, &nm) {
			t.Fatalf("len=%d: expected *needMore, got %v", n, err)
		}
		if nm.suggested != minHeaderSize {
			t.Errorf("len=%d: suggested = %d, want %d", n, nm.suggested, minHeaderSize)
		}
	}
}

func TestParseFrameHeader_UnmaskedSmallPayload(t *testing.T) {
	buf := []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}

	h, consumed, err := parseFrameHeader(buf)
	if err != nil {
		t.Fatalf("parseFrameHeader: %v", err)
	}
	if consumed != 2 {
		t.Errorf("consumed = %d, want 2", consumed)
	}
	if !h.fin {
		t.Error("fin = false, want true")
	}
	if h.opcode != opcodeText {
		t.Errorf("opcode = 0x%X, want text", h.opcode)
	}
	if h.masked {
		t.Error("masked = true, want false")
	}
	if h.payloadLength != 5 {
		t.Errorf("payloadLength = %d, want 5", h.payloadLength)
	}
}

func TestParseFrameHeader_MaskedNeedsExtraFourBytes(t *testing.T) {
	short := []byte{0x81, 0x85} // masked, length 5, no masking key yet
	_, _, err := parseFrameHeader(short)
	var nm *needMore
	if !errors.As(err, &nm) || nm.suggested != 6 {
		t.Fatalf("expected needMore(6), got %v", err)
	}

	full := append(append([]byte{}, short...), 0x11, 0x22, 0x33, 0x44)
	h, consumed, err := parseFrameHeader(full)
	if err != nil {
		t.Fatalf("parseFrameHeader: %v", err)
	}
	if consumed != 6 {
		t.Errorf("consumed = %d, want 6", consumed)
	}
	if !h.masked {
		t.Error("masked = false, want true")
	}
	if h.maskingKey != ([4]byte{0x11, 0x22, 0x33, 0x44}) {
		t.Errorf("maskingKey = %v", h.maskingKey)
	}
}

func TestParseFrameHeader_16BitLength(t *testing.T) {
	ext := make([]byte, 2)
	binary.BigEndian.PutUint16(ext, 300)
	buf := append([]byte{0x82, payloadLen16Bit}, ext...)

	h, consumed, err := parseFrameHeader(buf)
	if err != nil {
		t.Fatalf("parseFrameHeader: %v", err)
	}
	if h.payloadLength != 300 {
		t.Errorf("payloadLength = %d, want 300", h.payloadLength)
	}
	if consumed != 4 {
		t.Errorf("consumed = %d, want 4", consumed)
	}
}

func TestParseFrameHeader_64BitLength(t *testing.T) {
	ext := make([]byte, 8)
	binary.BigEndian.PutUint64(ext, 1<<20)
	buf := append([]byte{0x82, payloadLen64Bit}, ext...)

	h, consumed, err := parseFrameHeader(buf)
	if err != nil {
		t.Fatalf("parseFrameHeader: %v", err)
	}
	if h.payloadLength != 1<<20 {
		t.Errorf("payloadLength = %d, want %d", h.payloadLength, 1<<20)
	}
	if consumed != 10 {
		t.Errorf("consumed = %d, want 10", consumed)
	}
}

func TestParseFrameHeader_InvalidOpcode(t *testing.T) {
	buf := []byte{0x83, 0x00} // opcode 0x3, reserved
	_, _, err := parseFrameHeader(buf)
	if !errors.Is(err, ErrInvalidOpcode) {
		t.Fatalf("err = %v, want ErrInvalidOpcode", err)
	}
}

func TestApplyMaskFrom_RoundTrip(t *testing.T) {
	mask := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	original := []byte("a somewhat longer payload to cross the 4-byte boundary a few times")

	masked := append([]byte(nil), original...)
	applyMaskFrom(masked, mask, 0)

	if bytes.Equal(masked, original) {
		t.Fatal("masking did not change the payload")
	}

	applyMaskFrom(masked, mask, 0)
	if !bytes.Equal(masked, original) {
		t.Fatal("masking twice from the same offset did not round-trip")
	}
}

func TestApplyMaskFrom_SplitAcrossCallsMatchesOneShot(t *testing.T) {
	mask := [4]byte{1, 2, 3, 4}
	data := []byte("0123456789abcdef")

	oneShot := append([]byte(nil), data...)
	applyMaskFrom(oneShot, mask, 0)

	split := append([]byte(nil), data...)
	offset := applyMaskFrom(split[:7], mask, 0)
	applyMaskFrom(split[7:], mask, offset)

	if !bytes.Equal(oneShot, split) {
		t.Fatalf("split masking = %v, want %v", split, oneShot)
	}
}

func TestOpcodeFinForSend_Table(t *testing.T) {
	cases := []struct {
		name           string
		bufferType     BufferType
		inFragment     bool
		wantOpcode     byte
		wantFin        bool
		wantInFragment bool
	}{
		{"whole text message", UtfMessage, false, opcodeText, true, false},
		{"first text fragment", UtfFragment, false, opcodeText, false, true},
		{"middle text fragment", UtfFragment, true, opcodeContinuation, false, true},
		{"final text fragment", UtfMessage, true, opcodeContinuation, true, false},
		{"whole binary message", BinaryMessage, false, opcodeBinary, true, false},
		{"ping interleaved mid-fragment", Ping, true, opcodePing, true, true},
		{"close frame", Close, false, opcodeClose, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opcode, fin, nextInFragment, err := opcodeFinForSend(tc.bufferType, tc.inFragment)
			if err != nil {
				t.Fatalf("opcodeFinForSend: %v", err)
			}
			if opcode != tc.wantOpcode || fin != tc.wantFin || nextInFragment != tc.wantInFragment {
				t.Errorf("got (opcode=0x%X fin=%v next=%v), want (0x%X %v %v)",
					opcode, fin, nextInFragment, tc.wantOpcode, tc.wantFin, tc.wantInFragment)
			}
		})
	}
}

func TestSerializeFrame_NeverSetsMaskBit(t *testing.T) {
	buf, _, err := serializeFrame(BinaryMessage, false, []byte("payload"))
	if err != nil {
		t.Fatalf("serializeFrame: %v", err)
	}
	defer frameBufPool.Put(buf)

	if buf.B[1]&0x80 != 0 {
		t.Error("serialized server frame has MASK bit set")
	}
}

func TestSerializeFrame_ControlFrameOverLimitFails(t *testing.T) {
	payload := make([]byte, maxControlPayload+1)
	_, _, err := serializeFrame(Ping, false, payload)
	if !errors.Is(err, ErrControlTooLarge) {
		t.Fatalf("err = %v, want ErrControlTooLarge", err)
	}
}

func TestSerializeFrame_LengthEncodingThresholds(t *testing.T) {
	cases := []struct {
		length     int
		wantHeader int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}

	for _, tc := range cases {
		buf, _, err := serializeFrame(BinaryMessage, false, make([]byte, tc.length))
		if err != nil {
			t.Fatalf("length=%d: serializeFrame: %v", tc.length, err)
		}
		gotHeader := len(buf.B) - tc.length
		if gotHeader != tc.wantHeader {
			t.Errorf("length=%d: header size = %d, want %d", tc.length, gotHeader, tc.wantHeader)
		}
		frameBufPool.Put(buf)
	}
}
