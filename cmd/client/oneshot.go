package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/exchangechat/internal/ui"
)

// oneShot connects, runs fn against the presenter and disconnects. Output
// goes to the command's stdout and stderr.
func oneShot(cmd *cobra.Command, opts *options, fn func(ctx context.Context, p *ui.Presenter) error) error {
	ctx := cmd.Context()
	display := ui.NewWriter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := opts.connect(ctx, display)
	if err != nil {
		return err
	}
	defer s.Close()

	return shown(fn(ctx, s.Presenter))
}

func newSendCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a chat message",
		Long: `Send a chat message. With --wait the client stays connected and prints
what the chat says in the meantime.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return oneShot(cmd, opts, func(ctx context.Context, p *ui.Presenter) error {
				if err := p.SubmitChat(text); err != nil {
					return err
				}
				if wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "How long to print incoming messages")
	return cmd
}

func newConvertCmd(opts *options, kind string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <amount> [currency]",
		Short: strings.ToUpper(kind[:1]) + kind[1:] + " a currency for UAH",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount := args[0]
			currency := opts.cfg.Currency
			if len(args) == 2 {
				currency = strings.ToUpper(args[1])
			}
			return oneShot(cmd, opts, func(ctx context.Context, p *ui.Presenter) error {
				if kind == "sell" {
					return p.Sell(ctx, amount, currency)
				}
				return p.Buy(ctx, amount, currency)
			})
		},
	}
}

func newRatesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rates",
		Short: "Show today's exchange rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, opts, func(ctx context.Context, p *ui.Presenter) error {
				return p.Rates(ctx)
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <days>",
		Short: "Show exchange rates for the last days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days := args[0]
			return oneShot(cmd, opts, func(ctx context.Context, p *ui.Presenter) error {
				return p.History(ctx, days)
			})
		},
	}
}
