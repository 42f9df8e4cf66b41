package runner

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	stdoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// prefixWriter copies child output to out, starting every line with the
// job name.
type prefixWriter struct {
	mu      sync.Mutex
	out     io.Writer
	prefix  string
	midLine bool
}

func newPrefixWriter(out io.Writer, name string, style lipgloss.Style, styled bool) *prefixWriter {
	prefix := "[" + name + "]"
	if styled {
		prefix = style.Render(prefix)
	}
	return &prefixWriter{out: out, prefix: prefix + " "}
}

// Write forwards a chunk. Chunks need not end on a line boundary.
func (w *prefixWriter) Write(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	for chunk != "" {
		if !w.midLine {
			b.WriteString(w.prefix)
		}
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			b.WriteString(chunk)
			w.midLine = true
			break
		}
		b.WriteString(chunk[:i+1])
		chunk = chunk[i+1:]
		w.midLine = false
	}
	io.WriteString(w.out, b.String())
}
