package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
)

// InputError is a rejected command argument. Its message is sent back to
// the client as is.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// Service answers the exchange chat commands
type Service struct {
	source      RatesSource
	cache       *rateCache
	journal     *Journal
	currencies  []string
	maxDays     int
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithJournal records every summary in j
func WithJournal(j *Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithCacheTTL caches current rates; zero disables caching
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cache.ttl = ttl }
}

// WithFetchTimeout bounds a shared upstream fetch of current rates
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cache.fetchTimeout = d
		}
	}
}

// WithCurrencies sets the currencies listed by summaries and history
func WithCurrencies(currencies ...string) Option {
	return func(s *Service) { s.currencies = currencies }
}

// WithMaxDays sets the longest history allowed
func WithMaxDays(n int) Option {
	return func(s *Service) { s.maxDays = n }
}

// WithConcurrency bounds the parallel archive fetches of a history
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records cache lookups
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an exchange service over source
func NewService(source RatesSource, opts ...Option) *Service {
	s := &Service{
		source:      source,
		currencies:  []string{"USD", "EUR"},
		maxDays:     10,
		concurrency: 4,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	s.cache = newRateCache(time.Minute, 30*time.Second, func() time.Time { return s.now() })
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

func (s *Service) currentRates(ctx context.Context) ([]Rate, error) {
	rates, hit, err := s.cache.get(ctx, s.source.CurrentRates)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
	return rates, nil
}

// Summary returns the current buy and sale rates of every listed currency,
// one per line, and records it in the journal.
func (s *Service) Summary(ctx context.Context) (string, error) {
	rates, err := s.currentRates(ctx)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(s.currencies))
	for _, ccy := range s.currencies {
		r, ok := Find(rates, ccy)
		if !ok {
			lines = append(lines, fmt.Sprintf("Error: %s exchange rate not found", ccy))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: buy: %s, sale: %s", ccy, r.Buy, r.Sale))
	}

	summary := strings.Join(lines, "\n")
	s.journal.Record(summary)
	return summary, nil
}

// Convert prices amount of a currency in UAH. Buying uses the bank's buy
// rate, selling its sale rate.
func (s *Service) Convert(ctx context.Context, conv protocol.Conversion) (string, error) {
	rates, err := s.currentRates(ctx)
	if err != nil {
		return "", err
	}

	notFound := fmt.Sprintf("Error: %s exchange rate (%s rate) not found", conv.Currency, conv.Direction.Gerund())

	r, ok := Find(rates, conv.Currency)
	if !ok {
		return notFound, nil
	}
	price := r.Buy
	if conv.Direction == protocol.Sell {
		price = r.Sale
	}
	rate, err := strconv.ParseFloat(price, 64)
	if err != nil {
		s.logger.Warn("Unparseable rate from upstream", zap.String("currency", conv.Currency), zap.String("rate", price))
		return notFound, nil
	}

	return fmt.Sprintf("%s %s = %.2f %s", protocol.FormatAmount(conv.Amount), conv.Currency, conv.Amount*rate, BaseCurrency), nil
}

// History lists the daily rates of the last days (excluding today) per
// currency, oldest first, followed by the average over the days that had
// data. days is the raw command argument.
func (s *Service) History(ctx context.Context, days string) (string, error) {
	n, err := protocol.ParseDays(days)
	if err != nil {
		return "", &InputError{Message: "Invalid number of days"}
	}
	if n < 1 || n > s.maxDays {
		return "", &InputError{Message: fmt.Sprintf("Number of days must be between 1 and %d", s.maxDays)}
	}

	today := s.now()
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, -(n - i))
	}

	archive, err := s.fetchDays(ctx, dates)
	if err != nil {
		return "", err
	}

	blocks := make([]string, 0, len(s.currencies))
	for _, ccy := range s.currencies {
		blocks = append(blocks, fmt.Sprintf("%s Exchange History:\n%s", ccy, historyBlock(ccy, dates, archive)))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// fetchDays loads every date concurrently. A failed day leaves a nil entry;
// only cancellation of ctx fails the whole history.
func (s *Service) fetchDays(ctx context.Context, dates []time.Time) ([]*DayRates, error) {
	out := make([]*DayRates, len(dates))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, date := range dates {
		g.Go(func() error {
			day, err := s.source.RatesOn(ctx, date)
			if err != nil {
				s.logger.Warn("Archive rates fetch failed",
					append(tracing.Fields(ctx), zap.String("date", date.Format(DateLayout)), zap.Error(err))...)
				return nil
			}
			out[i] = day
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func historyBlock(ccy string, dates []time.Time, archive []*DayRates) string {
	lines := make([]string, 0, len(dates)+1)
	var buys, sales []float64

	for i, date := range dates {
		label := date.Format(DateLayout)
		if archive[i] == nil {
			lines = append(lines, fmt.Sprintf("%s: No data available", label))
			continue
		}
		buy, sale, ok := archive[i].Lookup(ccy)
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: No %s rate available", label, ccy))
			continue
		}
		buys = append(buys, buy)
		sales = append(sales, sale)
		lines = append(lines, fmt.Sprintf("%s:\n%s: buy: %.5f, sale: %.5f\n", label, ccy, buy, sale))
	}

	if len(buys) > 0 {
		lines = append(lines, fmt.Sprintf("%s average over %d days: buy: %.5f, sale: %.5f",
			ccy, len(buys), stat.Mean(buys, nil), stat.Mean(sales, nil)))
	}
	return strings.Join(lines, "\n")
}
