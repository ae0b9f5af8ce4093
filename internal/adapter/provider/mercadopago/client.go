// Package mercadopago fetches tenant payments from the MercadoPago API.
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/resilience"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	tracerName      = "provider-client"
	searchPath      = "/v1/payments/search"
	maxPageSize     = 100
	maxErrorSnippet = 120
	maxBodyBytes    = 4 << 20
)

// Failure reasons, also used as metric labels.
const (
	outcomeOK           = "ok"
	outcomeNoCredential = "no_credential"
	outcomeRateLimited  = "rate_limited"
	outcomeCircuitOpen  = "circuit_open"
	outcomeTimeout      = "timeout"
	outcomeTransport    = "transport"
	outcomeHTTPStatus   = "http_status"
	outcomeDecode       = "decode"
)

// Options configures a Client.
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	PageSize           int
	RateLimit          float64 // requests per second shared by all tenants; <= 0 disables
	Burst              int
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
	Location           *time.Location
	HTTPClient         *http.Client
}

// Client implements domain.ProviderClient.
type Client struct {
	baseURL    string
	timeout    time.Duration
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	breakers   *resilience.Group
	loc        *time.Location
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a provider client. m may be nil.
func NewClient(opts Options, logger *slog.Logger, m *metrics.Metrics) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		pageSize:   pageSize,
		httpClient: httpClient,
		limiter:    limiter,
		breakers:   resilience.NewGroup(opts.BreakerMaxFailures, opts.BreakerCooldown),
		loc:        loc,
		logger:     logger.With("component", "provider_client"),
		metrics:    m,
	}
}

type fetchError struct {
	outcome string
	err     error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// Fetch returns the tenant's recent payments, newest first. It never fails:
// every upstream problem is logged and yields an empty slice.
func (c *Client) Fetch(ctx context.Context, tenantKey, credential string, opts domain.FetchOptions) []domain.Transaction {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "provider.Fetch",
		trace.WithAttributes(attribute.String("tenant", tenantKey)))
	defer span.End()

	if credential == "" {
		return c.softFail(span, tenantKey, &fetchError{outcomeNoCredential, errors.New("missing provider credential")})
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.softFail(span, tenantKey, &fetchError{outcomeRateLimited, err})
	}

	var txs []domain.Transaction
	err := c.breakers.Get(tenantKey).Execute(func() error {
		var err error
		txs, err = c.search(ctx, tenantKey, credential, opts)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &fetchError{outcomeCircuitOpen, err}
		}
		return c.softFail(span, tenantKey, err)
	}

	c.count(outcomeOK)
	span.SetAttributes(attribute.Int("transactions", len(txs)))
	return txs
}

// CircuitStates reports the breaker state of every tenant fetched so far.
func (c *Client) CircuitStates() map[string]string {
	return c.breakers.States()
}

func (c *Client) search(ctx context.Context, tenantKey, credential string, opts domain.FetchOptions) ([]domain.Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(opts), nil)
	if err != nil {
		return nil, &fetchError{outcomeTransport, err}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &fetchError{outcomeTimeout, err}
		}
		return nil, &fetchError{outcomeTransport, err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &fetchError{outcomeTransport, fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		return nil, &fetchError{outcomeHTTPStatus, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)}
	}

	txs, skipped, err := decodeResults(body, tenantKey, c.loc)
	if err != nil {
		return nil, &fetchError{outcomeDecode, err}
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed provider results", "tenant", tenantKey, "count", skipped)
	}
	return txs, nil
}

func (c *Client) searchURL(opts domain.FetchOptions) string {
	limit := opts.Limit
	if limit <= 0 || limit > c.pageSize {
		limit = c.pageSize
	}

	q := url.Values{}
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", strconv.Itoa(limit))
	if opts.Range != nil {
		start, end := opts.Range.Bounds(c.loc)
		q.Set("range", "date_created")
		q.Set("begin_date", start.Format(time.RFC3339))
		q.Set("end_date", end.Add(-time.Second).Format(time.RFC3339))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	return c.baseURL + searchPath + "?" + q.Encode()
}

func (c *Client) softFail(span trace.Span, tenantKey string, err error) []domain.Transaction {
	outcome := outcomeTransport
	var fe *fetchError
	if errors.As(err, &fe) {
		outcome = fe.outcome
	}

	c.count(outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	c.logger.Warn("provider fetch failed", "tenant", tenantKey, "reason", outcome, "cause", err)
	return []domain.Transaction{}
}

func (c *Client) count(outcome string) {
	if c.metrics != nil {
		c.metrics.ProviderRequests.WithLabelValues(outcome).Inc()
	}
}
