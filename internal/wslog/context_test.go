package wslog

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestInContextFromContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := InContext(context.Background(), l)
	got := FromContext(ctx)

	got.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Fatal("logger retrieved from context did not write to the expected buffer")
	}
}

func TestFromContext_FallsBackWithoutPanicking(t *testing.T) {
	l := FromContext(context.Background())
	l.Info().Msg("should not panic")
}

func TestWithConn_AddsConnIDField(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	WithConn(base, "abc-123").Info().Msg("tagged")

	if !bytes.Contains(buf.Bytes(), []byte("abc-123")) {
		t.Errorf("log line missing conn_id field: %s", buf.String())
	}
}
