package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/exchangechat/internal/ui"
	"github.com/GriffinCanCode/exchangechat/internal/ui/tui"
)

func runTUI(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	display := tui.NewDisplay(0)

	s, err := opts.connect(ctx, display)
	if err != nil {
		return err
	}
	defer s.Close()

	return tui.Run(ctx, s.Presenter, display, tui.Config{
		URL:        opts.cfg.URL,
		Mode:       s.Mode().String(),
		Currencies: opts.cfg.Currencies,
		Currency:   opts.cfg.Currency,
	})
}

// runPlain reads one input per line from stdin. Lines starting with a slash
// are commands, everything else is chat.
func runPlain(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	w := ui.NewWriter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := opts.connect(ctx, w)
	if err != nil {
		return err
	}
	defer s.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.Done():
				return
			}
		}
	}()

	w.AppendLines([]string{fmt.Sprintf("Connected to %s (%s). Type /help for commands.", opts.cfg.URL, s.Mode())})
	currency := opts.cfg.Currency
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return shown(fmt.Errorf("connection closed: %w", s.Conn.Err()))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, s.Presenter, w, &currency, line); quit {
				return nil
			}
		}
	}
}

// dispatch runs one line of plain input. Failures are already on the
// display, so they do not end the loop.
func dispatch(ctx context.Context, p *ui.Presenter, w *ui.Writer, currency *string, line string) (quit bool) {
	if strings.TrimSpace(line) == "" {
		return false
	}

	c, ok := tui.ParseCommand(line)
	if !ok {
		_ = p.SubmitChat(line)
		return false
	}

	fields := strings.Fields(c.Arg)
	switch c.Name {
	case "quit":
		return true
	case "help":
		w.AppendLines([]string{"/buy <amount> [currency], /sell <amount> [currency], /currency <code>, /rates, /history <days>, /quit"})
	case "currency":
		if len(fields) == 1 {
			*currency = strings.ToUpper(fields[0])
		}
		w.AppendLines([]string{"Currency: " + *currency})
	case "rates":
		_ = p.Rates(ctx)
	case "history":
		_ = p.History(ctx, c.Arg)
	case "buy", "sell":
		amount, ccy := "", *currency
		if len(fields) > 0 {
			amount = fields[0]
		}
		if len(fields) > 1 {
			ccy = strings.ToUpper(fields[1])
		}
		if c.Name == "sell" {
			_ = p.Sell(ctx, amount, ccy)
		} else {
			_ = p.Buy(ctx, amount, ccy)
		}
	default:
		w.ShowError(fmt.Sprintf("Unknown command %q, try /help", line))
	}
	return false
}
