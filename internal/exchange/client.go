package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/tracing"
)

// ErrUnavailable wraps every failure to get rates from the upstream API.
var ErrUnavailable = errors.New("exchange rates unavailable")

const (
	endpointCurrent = "pubinfo"
	endpointArchive = "exchange_rates"
)

// ClientConfig configures the PrivatBank client
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	Retries           int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond float64
	// BreakerFailures consecutive failures open the circuit
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultClientConfig returns the production PrivatBank settings
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://api.privatbank.ua/p24api",
		Timeout:           10 * time.Second,
		Retries:           3,
		RetryWaitMin:      200 * time.Millisecond,
		RetryWaitMax:      2 * time.Second,
		RequestsPerSecond: 5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Client fetches rates from PrivatBank through a rate limiter and a circuit
// breaker. Transient failures are retried by the retryablehttp transport.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the client logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientMetrics records API calls and breaker state
func WithClientMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a PrivatBank client
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	c := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil
	// Hand the final response back instead of a generic "giving up" error
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			c.logger.Debug("Retrying rates request", zap.String("url", req.URL.String()), zap.Int("attempt", attempt))
		}
	}

	c.resty = resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "exchangechat/1.0").
		SetJSONUnmarshaler(sonic.Unmarshal).
		OnBeforeRequest(tracing.RestyMiddleware())

	if cfg.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = resilience.New("privatbank", resilience.Settings{
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if c.metrics != nil {
				c.metrics.SetBreakerState(name, int(to))
			}
		},
	})

	return c
}

// BreakerState exposes the circuit state for health reporting
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// CurrentRates fetches the current cash rates
func (c *Client) CurrentRates(ctx context.Context) ([]Rate, error) {
	var rates []Rate
	err := c.get(ctx, endpointCurrent, map[string]string{"exchange": "", "coursid": "5"}, &rates)
	if err != nil {
		return nil, err
	}
	return rates, nil
}

// RatesOn fetches the archived rates of one day
func (c *Client) RatesOn(ctx context.Context, date time.Time) (*DayRates, error) {
	var day DayRates
	err := c.get(ctx, endpointArchive, map[string]string{"date": date.Format(DateLayout)}, &day)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req := c.resty.R().
			SetContext(ctx).
			SetQueryParam("json", "").
			SetQueryParams(params).
			ForceContentType("application/json").
			SetResult(out)

		resp, err := req.Get("/" + endpoint)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("%w: %s: status %d", ErrUnavailable, endpoint, resp.StatusCode())
		}
		return nil
	})

	status := monitoring.StatusOK
	if err != nil {
		status = monitoring.StatusError
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			// Breaker rejections
			err = fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
		}
		c.logger.Warn("Rates request failed", append(tracing.Fields(ctx), zap.String("endpoint", endpoint), zap.Error(err))...)
	}
	if c.metrics != nil {
		c.metrics.RecordRatesCall(endpoint, status, time.Since(start))
	}
	return err
}
