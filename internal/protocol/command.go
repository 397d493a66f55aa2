package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDays   = errors.New("invalid number of days")
)

// Direction of a currency conversion
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Kind returns the command kind for the direction
func (d Direction) Kind() Kind {
	if d == Sell {
		return KindSellConvert
	}
	return KindBuyConvert
}

// Gerund is used in server error texts ("buying rate", "selling rate")
func (d Direction) Gerund() string {
	if d == Sell {
		return "selling"
	}
	return "buying"
}

// DirectionOf maps a conversion kind back to its direction
func DirectionOf(k Kind) (Direction, bool) {
	switch k {
	case KindBuyConvert:
		return Buy, true
	case KindSellConvert:
		return Sell, true
	}
	return "", false
}

// Conversion is a request for a currency buy or sell quote
type Conversion struct {
	Direction Direction
	Amount    float64
	Currency  string
}

// Legacy renders the conversion as a space-delimited text command
func (c Conversion) Legacy() string {
	return fmt.Sprintf("%s_convert %s %s", c.Direction, FormatAmount(c.Amount), c.Currency)
}

// Envelope renders the conversion as a tagged request
func (c Conversion) Envelope(requestID string) Envelope {
	return Envelope{
		Kind:     c.Direction.Kind(),
		ID:       requestID,
		Amount:   FormatAmount(c.Amount),
		Currency: c.Currency,
	}
}

// ParseAmount parses a user-entered amount. Only finite decimal numbers are
// accepted; surrounding whitespace is ignored. Digit separators, hex floats
// and named values such as "Inf" are rejected. Negative zero reads as zero.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.IndexFunc(s, notDecimal) >= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if f == 0 {
		return 0, nil
	}
	return f, nil
}

func notDecimal(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		return false
	}
	return true
}

// FormatAmount renders an amount in its shortest decimal form: 10 -> "10",
// 10.50 -> "10.5". Very large and very small magnitudes use exponent form
// without zero padding (1e-7 -> "1e-7"). Negative zero renders as "0".
func FormatAmount(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs < 1e21 && abs >= 1e-6 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	exp := strings.TrimLeft(s[i+2:], "0")
	return s[:i+2] + exp
}

// ParseDays parses the day count of an "exchange <days>" command. Only plain
// digits are accepted; range checks are left to the caller.
func ParseDays(s string) (int, error) {
	if s == "" {
		return 0, ErrInvalidDays
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDays, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDays, s)
	}
	return n, nil
}

// ExchangeCommand renders a legacy exchange request. Zero days asks for the
// current rates.
func ExchangeCommand(days int) string {
	if days <= 0 {
		return string(KindExchange)
	}
	return fmt.Sprintf("%s %d", KindExchange, days)
}

// Command is a parsed legacy text command
type Command struct {
	Kind Kind
	// Args holds the space-separated tokens, the command word included
	Args []string
	Raw  string
}

// ParseLegacy classifies a legacy text message by its prefix. Anything that
// is not an exchange or conversion command is chat.
func ParseLegacy(text string) Command {
	cmd := Command{Kind: KindChat, Raw: text}

	switch {
	case strings.HasPrefix(text, string(KindExchange)):
		cmd.Kind = KindExchange
	case strings.HasPrefix(text, string(KindBuyConvert)):
		cmd.Kind = KindBuyConvert
	case strings.HasPrefix(text, string(KindSellConvert)):
		cmd.Kind = KindSellConvert
	default:
		return cmd
	}

	cmd.Args = strings.Split(text, " ")
	return cmd
}
