// Package logbuf keeps the most recent lines of a child's output so they can
// be reported when the child fails.
package logbuf

import (
	"bytes"
	"strings"
	"sync"
)

// Line is one line of output and the stream it came from.
type Line struct {
	Channel string
	Text    string
}

func (l Line) String() string {
	return l.Channel + ": " + l.Text
}

// Tail is a thread-safe fixed-size buffer of the last N complete lines
// across all channels. Each channel assembles its own lines, so interleaved
// chunks from stdout and stderr never merge.
type Tail struct {
	mu      sync.Mutex
	lines   []Line
	size    int
	pos     int
	full    bool
	partial map[string]*bytes.Buffer
}

// New creates a tail that keeps the last n lines. n below 1 is treated as 1.
func New(n int) *Tail {
	if n < 1 {
		n = 1
	}
	return &Tail{
		lines:   make([]Line, n),
		size:    n,
		partial: make(map[string]*bytes.Buffer),
	}
}

// Append adds a chunk of output from channel. Text after the last newline
// is held until the next chunk or Flush.
func (t *Tail) Append(channel, chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.partial[channel]
	if !ok {
		buf = &bytes.Buffer{}
		t.partial[channel] = buf
	}
	buf.WriteString(chunk)

	for {
		line, err := buf.ReadString('\n')
		if err != nil {
			buf.Reset()
			buf.WriteString(line)
			return
		}
		t.add(Line{Channel: channel, Text: strings.TrimRight(line, "\r\n")})
	}
}

// Writer returns a callback that appends chunks for channel. It matches the
// signature of process output callbacks.
func (t *Tail) Writer(channel string) func(chunk string) {
	return func(chunk string) { t.Append(channel, chunk) }
}

// Flush commits every unterminated line, for use after the child exited.
func (t *Tail) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for channel, buf := range t.partial {
		if buf.Len() > 0 {
			t.add(Line{Channel: channel, Text: buf.String()})
			buf.Reset()
		}
	}
}

func (t *Tail) add(l Line) {
	t.lines[t.pos] = l
	t.pos = (t.pos + 1) % t.size
	if t.pos == 0 {
		t.full = true
	}
}

// Lines returns the stored lines, oldest first.
func (t *Tail) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		out := make([]Line, t.pos)
		copy(out, t.lines[:t.pos])
		return out
	}
	out := make([]Line, t.size)
	copy(out, t.lines[t.pos:])
	copy(out[t.size-t.pos:], t.lines[:t.pos])
	return out
}

// Last returns up to n of the most recent lines.
func (t *Tail) Last(n int) []Line {
	all := t.Lines()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Reset drops everything, including unterminated lines.
func (t *Tail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = 0
	t.full = false
	clear(t.lines)
	clear(t.partial)
}

// String renders the stored lines one per line, prefixed by channel.
func (t *Tail) String() string {
	lines := t.Lines()
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}
