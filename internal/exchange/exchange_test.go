package exchange

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/exchangechat/internal/protocol"
)

const pubinfoJSON = `[
	{"ccy":"EUR","base_ccy":"UAH","buy":"40.10000","sale":"41.20000"},
	{"ccy":"USD","base_ccy":"UAH","buy":"37.50000","sale":"38.10000"}
]`

const archiveJSON = `{
	"date":"09.03.2024","bank":"PB","baseCurrency":980,"baseCurrencyLit":"UAH",
	"exchangeRate":[
		{"baseCurrency":"UAH","currency":"AZN","saleRateNB":22.9,"purchaseRateNB":22.9},
		{"baseCurrency":"UAH","currency":"USD","saleRateNB":38.9,"purchaseRateNB":38.9,"saleRate":39.2,"purchaseRate":38.6}
	]
}`

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		BaseURL:         url,
		Timeout:         2 * time.Second,
		Retries:         0,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
	}
}

func TestClientCurrentRates(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pubinfo", r.URL.Path)
		query.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pubinfoJSON))
	}))
	defer srv.Close()

	client := NewClient(testClientConfig(srv.URL))
	rates, err := client.CurrentRates(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 2)

	usd, ok := Find(rates, "USD")
	require.True(t, ok)
	assert.Equal(t, "37.50000", usd.Buy)
	assert.Equal(t, "38.10000", usd.Sale)
	assert.Equal(t, "UAH", usd.Base)

	_, ok = Find(rates, "PLN")
	assert.False(t, ok)

	q := query.Load().(url.Values)
	assert.Contains(t, q, "json")
	assert.Contains(t, q, "exchange")
	assert.Equal(t, []string{"5"}, q["coursid"])
}

func TestClientRatesOn(t *testing.T) {
	var date atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange_rates", r.URL.Path)
		date.Store(r.URL.Query().Get("date"))
		// No JSON content type: the client must still decode the body
		_, _ = w.Write([]byte(archiveJSON))
	}))
	defer srv.Close()

	client := NewClient(testClientConfig(srv.URL))
	day, err := client.RatesOn(context.Background(), time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "09.03.2024", date.Load())
	assert.Equal(t, "UAH", day.BaseCurrency)

	buy, sale, ok := day.Lookup("USD")
	require.True(t, ok)
	assert.Equal(t, 38.6, buy)
	assert.Equal(t, 39.2, sale)

	_, _, ok = day.Lookup("AZN")
	assert.False(t, ok, "national-bank-only rates are not commercial rates")

	_, _, ok = day.Lookup("EUR")
	assert.False(t, ok)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.Retries = 1
	client := NewClient(cfg)

	_, err := client.CurrentRates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.BreakerFailures = 2
	client := NewClient(cfg)

	for i := 0; i < 2; i++ {
		_, err := client.CurrentRates(context.Background())
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, resilience.StateOpen, client.BreakerState())

	_, err := client.CurrentRates(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

// fakeSource serves fixed rates and counts calls.
type fakeSource struct {
	mu       sync.Mutex
	rates    []Rate
	ratesErr error
	days     map[string]*DayRates
	calls    int
}

func (f *fakeSource) CurrentRates(ctx context.Context) ([]Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.ratesErr != nil {
		return nil, f.ratesErr
	}
	return f.rates, nil
}

func (f *fakeSource) RatesOn(ctx context.Context, date time.Time) (*DayRates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day, ok := f.days[date.Format(DateLayout)]
	if !ok {
		return nil, errors.New("no archive")
	}
	return day, nil
}

func ptr(f float64) *float64 { return &f }

func defaultRates() []Rate {
	return []Rate{
		{Currency: "EUR", Base: "UAH", Buy: "40.10000", Sale: "41.20000"},
		{Currency: "USD", Base: "UAH", Buy: "37.50000", Sale: "38.10000"},
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC) }
}

func TestSummary(t *testing.T) {
	var journal bytes.Buffer
	src := &fakeSource{rates: defaultRates()}
	svc := NewService(src, WithJournal(NewJournal(&journal)))

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD: buy: 37.50000, sale: 38.10000\nEUR: buy: 40.10000, sale: 41.20000", summary)

	lines := strings.Split(strings.TrimSpace(journal.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"event":"exchange"`)
	assert.Contains(t, lines[0], `USD: buy: 37.50000, sale: 38.10000\nEUR: buy: 40.10000, sale: 41.20000`)
}

func TestSummaryMissingCurrency(t *testing.T) {
	src := &fakeSource{rates: defaultRates()[1:]}
	svc := NewService(src)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD: buy: 37.50000, sale: 38.10000\nError: EUR exchange rate not found", summary)
}

func TestSummaryUpstreamFailure(t *testing.T) {
	src := &fakeSource{ratesErr: ErrUnavailable}
	svc := NewService(src)

	_, err := svc.Summary(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestConvert(t *testing.T) {
	svc := NewService(&fakeSource{rates: defaultRates()})
	ctx := context.Background()

	tests := []struct {
		name string
		conv protocol.Conversion
		want string
	}{
		{"buy uses buy rate", protocol.Conversion{Direction: protocol.Buy, Amount: 10, Currency: "EUR"}, "10 EUR = 401.00 UAH"},
		{"sell uses sale rate", protocol.Conversion{Direction: protocol.Sell, Amount: 10, Currency: "EUR"}, "10 EUR = 412.00 UAH"},
		{"fractional amount", protocol.Conversion{Direction: protocol.Buy, Amount: 2.5, Currency: "USD"}, "2.5 USD = 93.75 UAH"},
		{"unknown buy", protocol.Conversion{Direction: protocol.Buy, Amount: 1, Currency: "PLN"}, "Error: PLN exchange rate (buying rate) not found"},
		{"unknown sell", protocol.Conversion{Direction: protocol.Sell, Amount: 1, Currency: "PLN"}, "Error: PLN exchange rate (selling rate) not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Convert(ctx, tt.conv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertUnparseableRate(t *testing.T) {
	src := &fakeSource{rates: []Rate{{Currency: "USD", Base: "UAH", Buy: "n/a", Sale: "38.1"}}}
	svc := NewService(src)

	got, err := svc.Convert(context.Background(), protocol.Conversion{Direction: protocol.Buy, Amount: 1, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "Error: USD exchange rate (buying rate) not found", got)
}

func TestCurrentRatesCache(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	src := &fakeSource{rates: defaultRates()}
	svc := NewService(src, WithCacheTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	_, err := svc.Summary(ctx)
	require.NoError(t, err)
	_, err = svc.Convert(ctx, protocol.Conversion{Direction: protocol.Buy, Amount: 1, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCacheDisabled(t *testing.T) {
	src := &fakeSource{rates: defaultRates()}
	svc := NewService(src, WithCacheTTL(0))

	for i := 0; i < 3; i++ {
		_, err := svc.Summary(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	src := &fakeSource{ratesErr: ErrUnavailable}
	svc := NewService(src)

	_, err := svc.Summary(context.Background())
	require.Error(t, err)

	src.mu.Lock()
	src.ratesErr = nil
	src.rates = defaultRates()
	src.mu.Unlock()

	_, err = svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

// blockingSource holds CurrentRates until release is closed or ctx ends.
type blockingSource struct {
	fakeSource
	started chan struct{}
	release chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{
		fakeSource: fakeSource{rates: defaultRates()},
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (b *blockingSource) CurrentRates(ctx context.Context) ([]Rate, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return b.fakeSource.CurrentRates(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSharedFetchOutlivesCancelledCaller(t *testing.T) {
	src := newBlockingSource()
	svc := NewService(src, WithCacheTTL(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Summary(ctx)
		errCh <- err
	}()

	<-src.started
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	got, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "USD: buy: 37.50000")
	assert.Equal(t, 1, src.calls, "the shared fetch finished and was cached")
}

func TestSharedFetchTimeout(t *testing.T) {
	src := newBlockingSource()
	svc := NewService(src, WithCacheTTL(time.Minute), WithFetchTimeout(20*time.Millisecond))

	_, err := svc.Summary(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func historySource() *fakeSource {
	return &fakeSource{days: map[string]*DayRates{
		"09.03.2024": {Rates: []HistoricalRate{
			{Currency: "USD", PurchaseRate: ptr(37.5), SaleRate: ptr(38.1)},
			{Currency: "EUR", PurchaseRate: ptr(40.1), SaleRate: ptr(41.2)},
		}},
		"10.03.2024": {Rates: []HistoricalRate{
			{Currency: "USD", PurchaseRate: ptr(37.7), SaleRate: ptr(38.3)},
			{Currency: "EUR", SaleRateNB: 41},
		}},
	}}
}

func TestHistory(t *testing.T) {
	svc := NewService(historySource(), WithClock(fixedClock()))

	got, err := svc.History(context.Background(), "2")
	require.NoError(t, err)

	want := "USD Exchange History:\n" +
		"09.03.2024:\nUSD: buy: 37.50000, sale: 38.10000\n\n" +
		"10.03.2024:\nUSD: buy: 37.70000, sale: 38.30000\n\n" +
		"USD average over 2 days: buy: 37.60000, sale: 38.20000" +
		"\n\nEUR Exchange History:\n" +
		"09.03.2024:\nEUR: buy: 40.10000, sale: 41.20000\n\n" +
		"10.03.2024: No EUR rate available\n" +
		"EUR average over 1 days: buy: 40.10000, sale: 41.20000"
	assert.Equal(t, want, got)
}

func TestHistoryFetchFailures(t *testing.T) {
	svc := NewService(historySource(), WithClock(fixedClock()), WithConcurrency(1))

	got, err := svc.History(context.Background(), "3")
	require.NoError(t, err)

	// 08.03 is not in the archive
	assert.True(t, strings.HasPrefix(got, "USD Exchange History:\n08.03.2024: No data available\n09.03.2024:"))
	assert.Contains(t, got, "EUR Exchange History:\n08.03.2024: No data available\n")
}

func TestHistoryNoData(t *testing.T) {
	svc := NewService(&fakeSource{}, WithClock(fixedClock()), WithCurrencies("USD"))

	got, err := svc.History(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "USD Exchange History:\n10.03.2024: No data available", got)
}

func TestHistoryInvalidDays(t *testing.T) {
	svc := NewService(historySource())

	tests := []struct {
		days string
		want string
	}{
		{"abc", "Invalid number of days"},
		{"-1", "Invalid number of days"},
		{"1.5", "Invalid number of days"},
		{"", "Invalid number of days"},
		{"0", "Number of days must be between 1 and 10"},
		{"11", "Number of days must be between 1 and 10"},
	}

	for _, tt := range tests {
		t.Run(tt.days, func(t *testing.T) {
			_, err := svc.History(context.Background(), tt.days)
			var inputErr *InputError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, tt.want, inputErr.Message)
		})
	}
}

func TestHistoryCanceled(t *testing.T) {
	svc := NewService(historySource(), WithClock(fixedClock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.History(ctx, "5")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenJournal(t *testing.T) {
	path := t.TempDir() + "/exchange_log.txt"

	j, err := OpenJournal(path)
	require.NoError(t, err)
	j.Record("USD: buy: 1, sale: 2")
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	j, err = OpenJournal(path)
	require.NoError(t, err)
	j.Record("EUR: buy: 3, sale: 4")
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "journal appends across opens")
	assert.Contains(t, lines[1], "EUR: buy: 3, sale: 4")

	var nilJournal *Journal
	assert.NotPanics(t, func() { nilJournal.Record("x") })
}
