package ui

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/correlator"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
	"github.com/GriffinCanCode/exchangechat/internal/transport"
)

// Texts shown by the presenter
const (
	WaitingText      = "Waiting for the result..."
	AmountErrorText  = "Amount format is incorrect"
	DaysErrorText    = "Number of days must be a positive integer"
	TimeoutText      = "Request timed out"
	CancelledText    = "Request cancelled"
	DisconnectedText = "Connection closed"
)

// Display is what the presenter drives. Implementations must be safe for
// use from several goroutines.
type Display interface {
	// AppendLines adds lines to the result area
	AppendLines(lines []string)
	// SetResult replaces the result area
	SetResult(text string)
	// ShowError sets the error line
	ShowError(text string)
	ClearChatInput()
	ClearAmountInput()
}

// Sender transmits raw outbound text
type Sender interface {
	Send(text string) error
}

// Requester sends commands that expect a reply. *correlator.Correlator
// implements it.
type Requester interface {
	Mode() correlator.Mode
	Convert(ctx context.Context, conv protocol.Conversion) (correlator.Reply, error)
	Exchange(ctx context.Context, days int) (correlator.Reply, error)
	Handle(payload []byte) bool
}

// Presenter connects the chat and conversion controls to the transport and
// the display
type Presenter struct {
	sender   Sender
	requests Requester
	display  Display
	logger   *zap.Logger
}

// Option configures a Presenter
type Option func(*Presenter)

// WithLogger sets the presenter logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Presenter) { p.logger = l }
}

// NewPresenter creates a presenter. Receive must be subscribed to the
// transport for replies to reach the requester.
func NewPresenter(sender Sender, requests Requester, display Display, opts ...Option) *Presenter {
	p := &Presenter{
		sender:   sender,
		requests: requests,
		display:  display,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Presenter) tagged() bool {
	return p.requests.Mode() == correlator.ModeTagged
}

// SubmitChat sends chat text as is, clears the chat input and marks the
// result area as waiting
func (p *Presenter) SubmitChat(text string) error {
	payload := text
	if p.tagged() {
		data, err := protocol.Encode(protocol.Chat(text))
		if err != nil {
			return err
		}
		payload = string(data)
	}

	if err := p.sender.Send(payload); err != nil {
		p.showFailure(err)
		return err
	}
	p.display.SetResult(WaitingText)
	p.display.ClearChatInput()
	return nil
}

// Buy requests the price of buying amountText of currency
func (p *Presenter) Buy(ctx context.Context, amountText, currency string) error {
	return p.convert(ctx, protocol.Buy, amountText, currency)
}

// Sell requests the price of selling amountText of currency
func (p *Presenter) Sell(ctx context.Context, amountText, currency string) error {
	return p.convert(ctx, protocol.Sell, amountText, currency)
}

func (p *Presenter) convert(ctx context.Context, dir protocol.Direction, amountText, currency string) error {
	defer p.display.ClearAmountInput()

	amount, err := protocol.ParseAmount(amountText)
	if err != nil {
		p.display.ShowError(AmountErrorText)
		return err
	}

	reply, err := p.requests.Convert(ctx, protocol.Conversion{Direction: dir, Amount: amount, Currency: currency})
	if err != nil {
		p.showFailure(err)
		return err
	}
	p.display.SetResult(reply.Text)
	return nil
}

// Rates requests the current rates summary
func (p *Presenter) Rates(ctx context.Context) error {
	return p.exchange(ctx, 0)
}

// History requests the rate history of the last daysText days. The upper
// bound is enforced by the server.
func (p *Presenter) History(ctx context.Context, daysText string) error {
	days, err := protocol.ParseDays(daysText)
	if err == nil && days < 1 {
		err = fmt.Errorf("%w: %d", protocol.ErrInvalidDays, days)
	}
	if err != nil {
		p.display.ShowError(DaysErrorText)
		return err
	}
	return p.exchange(ctx, days)
}

func (p *Presenter) exchange(ctx context.Context, days int) error {
	reply, err := p.requests.Exchange(ctx, days)
	if err != nil {
		p.showFailure(err)
		return err
	}
	p.display.SetResult(reply.Text)
	return nil
}

// Receive handles one inbound payload. A reply claimed by a pending request
// is rendered by that request only; anything else is appended line by line.
func (p *Presenter) Receive(payload []byte) {
	if p.requests.Handle(payload) {
		return
	}

	text := string(payload)
	if p.tagged() {
		text = protocol.DisplayText(payload)
	}
	if lines := protocol.SplitLines(text); len(lines) > 0 {
		p.display.AppendLines(lines)
	}
}

// Disconnected reports the end of the transport
func (p *Presenter) Disconnected(err error) {
	p.logger.Warn("Transport closed", zap.Error(err))
	p.display.ShowError(DisconnectedText)
}

func (p *Presenter) showFailure(err error) {
	var remote *correlator.RemoteError
	switch {
	case errors.As(err, &remote):
		p.display.ShowError(remote.Message)
	case errors.Is(err, correlator.ErrTimeout):
		p.display.ShowError(TimeoutText)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.display.ShowError(CancelledText)
	case errors.Is(err, correlator.ErrClosed), errors.Is(err, transport.ErrClosed):
		p.display.ShowError(DisconnectedText)
	default:
		p.logger.Warn("Request failed", zap.Error(err))
		p.display.ShowError("Error: " + err.Error())
	}
}
