package ui

import (
	"fmt"
	"io"
	"sync"
)

// Writer is a line-oriented Display for non-interactive use. Results and
// appended lines go to out, errors to errOut. Input clearing is a no-op.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

// NewWriter creates a Writer. A nil errOut sends errors to out.
func NewWriter(out, errOut io.Writer) *Writer {
	if errOut == nil {
		errOut = out
	}
	return &Writer{out: out, errOut: errOut}
}

// AppendLines writes one line per element
func (w *Writer) AppendLines(lines []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(w.out, line)
	}
}

// SetResult writes the result text
func (w *Writer) SetResult(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, text)
}

// ShowError writes the error text
func (w *Writer) ShowError(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.errOut, "error:", text)
}

func (w *Writer) ClearChatInput() {}

func (w *Writer) ClearAmountInput() {}
