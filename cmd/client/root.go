package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/config"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/logging"
	"github.com/GriffinCanCode/exchangechat/internal/ui"
)

// errShown marks failures the display has already reported
var errShown = errors.New("reported")

// options are the flags shared by every command
type options struct {
	configPath string
	url        string
	protocol   string
	timeout    time.Duration
	currency   string
	logFile    string
	plain      bool

	cfg    *config.ClientConfig
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "exchangechat",
		Short: "Chat and currency exchange client",
		Long: `exchangechat connects to an exchange chat server over WebSocket.
Without a subcommand it opens the interactive terminal UI.

Examples:
  exchangechat                          Start the interactive UI
  exchangechat --plain                  Line mode, reading commands from stdin
  exchangechat buy 100 EUR              Convert once and print the result
  exchangechat rates                    Show today's rates
  exchangechat history 3                Show rates for the last 3 days
  exchangechat send "hello" --wait 5s   Send a chat message and print replies`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.plain {
				return runPlain(cmd, opts)
			}
			return runTUI(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	flags.StringVarP(&opts.url, "url", "u", "", "Server URL (default ws://127.0.0.1:8070)")
	flags.StringVar(&opts.protocol, "protocol", "", "Wire protocol: tagged or legacy")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Request timeout")
	flags.StringVar(&opts.currency, "currency", "", "Default currency")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Line mode instead of the terminal UI")

	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newConvertCmd(opts, "buy"))
	cmd.AddCommand(newConvertCmd(opts, "sell"))
	cmd.AddCommand(newRatesCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))

	return cmd
}

// load builds the configuration. Flags set on the command line win over the
// file and the environment.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.LoadClient(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = o.url
	}
	if flags.Changed("protocol") {
		cfg.Protocol = o.protocol
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if flags.Changed("currency") {
		cfg.Currency = o.currency
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	if cfg.LogFile == "" {
		o.logger = logging.NewNop()
		return nil
	}
	o.logger, err = logging.New(logging.FileConfig(cfg.LogFile, cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	return nil
}

func (o *options) connect(ctx context.Context, display ui.Display) (*ui.Session, error) {
	o.logger.Info("Connecting",
		zap.String("url", o.cfg.URL),
		zap.String("protocol", o.cfg.Protocol),
	)

	s, err := ui.Connect(ctx, ui.SessionConfig{
		URL:     o.cfg.URL,
		Tagged:  o.cfg.Protocol == config.ProtocolTagged,
		Timeout: o.cfg.Timeout,
	}, display, o.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.cfg.URL, err)
	}

	o.logger.Info("Connected", zap.Stringer("mode", s.Mode()))
	return s, nil
}

// shown wraps an error the display already reported
func shown(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errShown, err)
}
