package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Actions are the user operations the model triggers. *ui.Presenter
// implements them.
type Actions interface {
	SubmitChat(text string) error
	Buy(ctx context.Context, amount, currency string) error
	Sell(ctx context.Context, amount, currency string) error
	Rates(ctx context.Context) error
	History(ctx context.Context, days string) error
}

// Config describes what the header shows and which currencies are offered
type Config struct {
	URL        string
	Mode       string
	Currencies []string
	Currency   string
}

type focus int

const (
	focusChat focus = iota
	focusAmount
)

// doneMsg reports that a background action finished. Its outcome has
// already been rendered through the display.
type doneMsg struct{ err error }

// Model is the bubbletea model of the chat client
type Model struct {
	ctx     context.Context
	actions Actions
	display *Display
	config  Config

	viewport viewport.Model
	chat     textinput.Model
	amount   textinput.Model
	spinner  spinner.Model

	focus    focus
	currency int
	lines    []string
	errText  string
	busy     int

	width  int
	height int
	ready  bool
}

// New creates a model. ctx bounds every request the model starts.
func New(ctx context.Context, actions Actions, display *Display, cfg Config) Model {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = []string{"USD", "EUR"}
	}

	chat := textinput.New()
	chat.Placeholder = "Message, or /help"
	chat.CharLimit = 1024
	chat.Focus()

	amount := textinput.New()
	amount.Placeholder = "Amount"
	amount.CharLimit = 32

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = busyStyle

	m := Model{
		ctx:     ctx,
		actions: actions,
		display: display,
		config:  cfg,
		chat:    chat,
		amount:  amount,
		spinner: s,
	}
	for i, c := range cfg.Currencies {
		if strings.EqualFold(c, cfg.Currency) {
			m.currency = i
		}
	}
	return m
}

// Init starts listening for display updates
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.display.listen())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab":
			m.toggleFocus()
			return m, nil

		case "ctrl+b":
			return m.convert(m.ctx, "buy")

		case "ctrl+x":
			return m.convert(m.ctx, "sell")

		case "enter":
			if m.focus == focusAmount {
				return m.convert(m.ctx, "buy")
			}
			return m.submit()

		case "up", "down":
			if m.focus == focusAmount {
				m.cycleCurrency(msg.String() == "up")
				return m, nil
			}

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case appendLinesMsg:
		m.lines = append(m.lines, msg...)
		m.refresh()
		return m, m.display.listen()

	case resultMsg:
		m.lines = strings.Split(string(msg), "\n")
		m.refresh()
		return m, m.display.listen()

	case errorMsg:
		m.errText = string(msg)
		return m, m.display.listen()

	case clearChatMsg:
		m.chat.Reset()
		return m, m.display.listen()

	case clearAmountMsg:
		m.amount.Reset()
		return m, m.display.listen()

	case doneMsg:
		if m.busy > 0 {
			m.busy--
		}
		return m, nil

	case spinner.TickMsg:
		if m.busy == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.focus == focusChat {
		m.chat, cmd = m.chat.Update(msg)
	} else {
		m.amount, cmd = m.amount.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit sends the chat input, or runs it as a command when it starts
// with a slash
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.chat.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}

	c, ok := ParseCommand(text)
	if !ok {
		return m.start(func() error { return m.actions.SubmitChat(text) })
	}
	m.chat.Reset()

	ctx := m.ctx
	switch c.Name {
	case "quit":
		return m, tea.Quit
	case "help":
		m.lines = helpLines()
		m.refresh()
		return m, nil
	case "currency":
		if !m.selectCurrency(c.Arg) {
			m.errText = fmt.Sprintf("Unknown currency %q", c.Arg)
		} else {
			m.errText = ""
		}
		return m, nil
	case "rates":
		return m.start(func() error { return m.actions.Rates(ctx) })
	case "history":
		days := c.Arg
		return m.start(func() error { return m.actions.History(ctx, days) })
	case "buy", "sell":
		if c.Arg != "" {
			m.amount.SetValue(c.Arg)
		}
		return m.convert(ctx, c.Name)
	}

	m.errText = fmt.Sprintf("Unknown command %q, try /help", text)
	return m, nil
}

func (m Model) convert(ctx context.Context, kind string) (tea.Model, tea.Cmd) {
	amount := m.amount.Value()
	currency := m.Currency()
	if kind == "sell" {
		return m.start(func() error { return m.actions.Sell(ctx, amount, currency) })
	}
	return m.start(func() error { return m.actions.Buy(ctx, amount, currency) })
}

// start runs fn off the event loop
func (m Model) start(fn func() error) (tea.Model, tea.Cmd) {
	m.errText = ""
	m.busy++
	run := func() tea.Msg { return doneMsg{err: fn()} }
	if m.busy == 1 {
		return m, tea.Batch(run, m.spinner.Tick)
	}
	return m, run
}

// Currency returns the selected currency
func (m Model) Currency() string {
	return m.config.Currencies[m.currency]
}

func (m *Model) selectCurrency(code string) bool {
	for i, c := range m.config.Currencies {
		if strings.EqualFold(c, code) {
			m.currency = i
			return true
		}
	}
	return false
}

func (m *Model) cycleCurrency(back bool) {
	n := len(m.config.Currencies)
	if back {
		m.currency = (m.currency + n - 1) % n
	} else {
		m.currency = (m.currency + 1) % n
	}
}

func (m *Model) toggleFocus() {
	if m.focus == focusChat {
		m.focus = focusAmount
		m.chat.Blur()
		m.amount.Focus()
		return
	}
	m.focus = focusChat
	m.amount.Blur()
	m.chat.Focus()
}

func (m *Model) resize() {
	headerHeight := 3
	inputHeight := 4
	statusHeight := 2
	vpHeight := m.height - headerHeight - inputHeight - statusHeight - 2
	if vpHeight < 3 {
		vpHeight = 3
	}
	vpWidth := m.width - 4
	if vpWidth < 20 {
		vpWidth = 20
	}

	if !m.ready {
		m.viewport = viewport.New(vpWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = vpWidth
		m.viewport.Height = vpHeight
	}
	m.chat.Width = vpWidth - 14
	m.amount.Width = 16
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "Connecting..."
	}
	width := m.width - 2

	header := headerStyle.Width(width).Render(
		titleStyle.Render("exchangechat") + "  " +
			subtitleStyle.Render(fmt.Sprintf("%s · %s", m.config.URL, m.config.Mode)))

	results := resultAreaStyle.Width(width).Render(m.viewport.View())

	chatLabel, amountLabel := labelStyle, labelStyle
	if m.focus == focusChat {
		chatLabel = focusedLabelStyle
	} else {
		amountLabel = focusedLabelStyle
	}
	inputs := inputPanelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
		chatLabel.Render("Chat")+m.chat.View(),
		amountLabel.Render("Amount")+m.amount.View()+"  "+currencyStyle.Render("‹ "+m.Currency()+" ›"),
	))

	status := m.renderStatus()

	return lipgloss.JoinVertical(lipgloss.Left, header, results, inputs, status)
}

func (m Model) renderStatus() string {
	if m.errText != "" {
		return errorStyle.Render(m.errText)
	}
	if m.busy > 0 {
		return m.spinner.View() + busyStyle.Render(" waiting for the server")
	}

	keys := []struct{ key, desc string }{
		{"enter", "send"},
		{"tab", "switch"},
		{"ctrl+b", "buy"},
		{"ctrl+x", "sell"},
		{"↑/↓", "currency"},
		{"esc", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, statusKeyStyle.Render(k.key)+" "+statusDescStyle.Render(k.desc))
	}
	return strings.Join(parts, statusDescStyle.Render(" • "))
}

func helpLines() []string {
	return []string{
		"/buy <amount>      buy the selected currency",
		"/sell <amount>     sell the selected currency",
		"/currency <code>   select a currency",
		"/rates             today's exchange rates",
		"/history <days>    rates for the last days",
		"/quit              leave",
		"Anything else is sent to the chat.",
	}
}

// Run starts the program and blocks until the user quits
func Run(ctx context.Context, actions Actions, display *Display, cfg Config) error {
	defer display.Close()

	p := tea.NewProgram(New(ctx, actions, display, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
