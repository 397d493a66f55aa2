package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Display messages delivered to the model
type (
	appendLinesMsg []string
	resultMsg      string
	errorMsg       string
	clearChatMsg   struct{}
	clearAmountMsg struct{}
)

// Display implements ui.Display for the TUI. Updates are queued in arrival
// order and picked up by the model through listen.
type Display struct {
	events    chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

// NewDisplay creates a display whose queue holds up to buffer pending updates
func NewDisplay(buffer int) *Display {
	if buffer < 1 {
		buffer = 256
	}
	return &Display{
		events: make(chan tea.Msg, buffer),
		done:   make(chan struct{}),
	}
}

// AppendLines adds lines to the result area
func (d *Display) AppendLines(lines []string) {
	d.emit(appendLinesMsg(append([]string(nil), lines...)))
}

// SetResult replaces the result area
func (d *Display) SetResult(text string) {
	d.emit(resultMsg(text))
}

// ShowError sets the error line
func (d *Display) ShowError(text string) {
	d.emit(errorMsg(text))
}

func (d *Display) ClearChatInput() {
	d.emit(clearChatMsg{})
}

func (d *Display) ClearAmountInput() {
	d.emit(clearAmountMsg{})
}

// Close stops accepting updates. Callers blocked on a full queue return.
func (d *Display) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Display) emit(msg tea.Msg) {
	select {
	case d.events <- msg:
	case <-d.done:
	}
}

// listen waits for the next display update. The model re-arms it after
// every update it receives.
func (d *Display) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-d.events:
			return msg
		case <-d.done:
			return nil
		}
	}
}
