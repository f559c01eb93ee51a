package logx

import (
	"bufio"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// LineWriter turns subprocess output into per-line zerolog events at a given
// level and keeps the last few lines for error messages.
type LineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level

	mu   sync.Mutex
	tail []string
	keep int
}

func NewLineWriter(base zerolog.Logger, fields map[string]string, level zerolog.Level) *LineWriter {
	w := base.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	return &LineWriter{logger: w.Logger(), level: level, keep: 5}
}

// Pipe consumes r until EOF.
func (lw *LineWriter) Pipe(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lw.remember(line)
		lw.logger.WithLevel(lw.level).Msg(line)
	}
}

func (lw *LineWriter) remember(line string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.tail = append(lw.tail, line)
	if len(lw.tail) > lw.keep {
		lw.tail = lw.tail[len(lw.tail)-lw.keep:]
	}
}

// Tail returns up to the last five lines seen.
func (lw *LineWriter) Tail() []string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	out := make([]string, len(lw.tail))
	copy(out, lw.tail)
	return out
}
