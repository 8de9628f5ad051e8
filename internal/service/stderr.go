package service

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mx        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()

	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		b.truncated = true
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = b.buf[:copy(b.buf, b.buf[over:])]
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return string(b.buf)
}

// Truncated reports whether older output was discarded.
func (b *tailBuffer) Truncated() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.truncated
}

// excerpt joins the last maxLines lines of s with spaces and keeps at most
// maxBytes from its end. Returns "" for blank input.
func excerpt(s string, maxLines, maxBytes int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	out := strings.Join(lines, " ")
	if len(out) <= maxBytes {
		return out
	}
	cut := len(out) - maxBytes
	for cut < len(out) && !utf8.RuneStart(out[cut]) {
		cut++
	}
	return out[cut:]
}
