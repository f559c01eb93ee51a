package logx

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestFromCtxAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	ctx := WithItem(context.Background(), "01HZX", 42, -100)
	l := FromCtx(ctx)
	l.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"item":"01HZX"`, `"uid":42`, `"chat_id":-100`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestLineWriterKeepsTail(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLineWriter(zerolog.New(&buf), map[string]string{"tool": "ffmpeg"}, zerolog.DebugLevel)
	lw.Pipe(strings.NewReader("a\nb\nc\nd\ne\nf\ng\n"))

	tail := lw.Tail()
	if len(tail) != 5 || tail[0] != "c" || tail[4] != "g" {
		t.Fatalf("unexpected tail %v", tail)
	}
	if strings.Count(buf.String(), `"tool":"ffmpeg"`) != 7 {
		t.Fatalf("expected one event per line, got %s", buf.String())
	}
}
