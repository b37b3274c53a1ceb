// Package meetup implements the Meetup GraphQL client used to page through a
// group's past events and their RSVPs.
package meetup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/shared"
	"github.com/nykp/meetup-participation/pkg/circuitbreaker"
	"github.com/nykp/meetup-participation/pkg/retry"
)

// DefaultEndpoint is the public Meetup GraphQL endpoint.
const DefaultEndpoint = "https://api.meetup.com/gql"

const tracerName = "github.com/nykp/meetup-participation/meetup"

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Meetup API client.
type ClientConfig struct {
	// Endpoint is the GraphQL URL
	Endpoint string

	// Token is sent in the Authorization header. A bare token gets a Bearer prefix.
	Token string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// MaxAttempts bounds retries of a single page request
	MaxAttempts int

	// BreakerThreshold is the number of consecutive failures that open the circuit
	BreakerThreshold int

	// BreakerTimeout is how long the circuit stays open
	BreakerTimeout time.Duration

	RateLimiter RateLimiterConfig

	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client

	Logger *zap.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Endpoint:         DefaultEndpoint,
		Token:            token,
		Timeout:          30 * time.Second,
		MaxAttempts:      10,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
		RateLimiter:      DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Meetup GraphQL client. It is safe for concurrent use, though
// a pull only ever issues one request at a time.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *zap.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.Breaker
	retry       retry.Policy
	mapper      *Mapper
	tracer      trace.Tracer
}

// NewClient creates a new Meetup API client.
func NewClient(config ClientConfig) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	c := &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      config.Logger.Named("meetup"),
		rateLimiter: NewRateLimiter(config.RateLimiter),
		mapper:      NewMapper(),
		tracer:      otel.Tracer(tracerName),
	}
	c.breaker = circuitbreaker.ForMeetup(
		config.BreakerThreshold,
		config.BreakerTimeout,
		countsAsFailure,
		func(name string, from, to circuitbreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	)
	c.retry = retry.MeetupPolicy(config.MaxAttempts, isRetryable)
	c.retry.Notify = func(attempt int, err error, wait time.Duration) {
		c.logger.Debug("retrying meetup request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// PAGE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FetchPage fetches one page of past events for group starting after cursor.
// Transport failures are reported with kind ErrFetch and unexpected response
// shapes with kind ErrMalformedPage.
func (c *Client) FetchPage(ctx context.Context, group, cursor string) (attendance.Page, error) {
	const op = "FetchPage"

	ctx, span := c.tracer.Start(ctx, "meetup.FetchPage", trace.WithAttributes(
		attribute.String("meetup.group", group),
		attribute.String("meetup.cursor", cursor),
	))
	defer span.End()

	req := GraphQLRequestDTO{
		Query:         pastEventsQuery,
		OperationName: "PastEventAttendees",
		Variables:     pageVariables(group, cursor),
	}

	data, err := retry.Value(ctx, c.retry, func(ctx context.Context) (*PastEventsDataDTO, error) {
		var data *PastEventsDataDTO
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
			var reqErr error
			data, reqErr = c.doSingleRequest(ctx, req)
			return reqErr
		})
		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) && rateLimitErr != ErrRateLimitWaitTimeout {
			c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
		}
		return data, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		st := c.Status()
		c.logger.Warn("page fetch failed",
			zap.String("group", group),
			zap.String("cursor", cursor),
			zap.Stringer("breaker", st.BreakerState),
			zap.Int("breaker_trips", st.Breaker.Trips),
			zap.Duration("blocked_for", st.RateLimiter.BlockedFor),
			zap.Error(err),
		)
		if errors.Is(err, shared.ErrMalformedPage) {
			return attendance.Page{}, err
		}
		return attendance.Page{}, shared.WrapError("meetup", op, shared.ErrFetch,
			fmt.Sprintf("group %s cursor %q", group, cursor), err)
	}

	page, err := c.mapper.PageFromDTO(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return attendance.Page{}, err
	}

	span.SetAttributes(
		attribute.Int("meetup.events", len(page.Events)),
		attribute.Bool("meetup.has_next", page.HasNext()),
	)
	return page, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("meetup api: status %d: %s", e.StatusCode, e.Body)
}

// doSingleRequest performs one POST and decodes the envelope.
func (c *Client) doSingleRequest(ctx context.Context, body GraphQLRequestDTO) (*PastEventsDataDTO, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if auth := authorization(c.config.Token); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("meetup api request",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
		zap.Int("bytes", len(respBody)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RateLimitError{RetryAfter: retryAfter, Message: "rate limit exceeded"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	var envelope GraphQLResponseDTO
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, shared.WrapError("meetup", "FetchPage", shared.ErrMalformedPage, "decode response", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, GraphQLErrors(envelope.Errors)
	}

	return envelope.Data, nil
}

// isRetryable reports whether a failed attempt is worth repeating.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr != ErrRateLimitWaitTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusRequestTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// countsAsFailure keeps caller cancellations and bad payloads from opening
// the circuit.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, shared.ErrMalformedPage) {
		return false
	}
	var gqlErrs GraphQLErrors
	return !errors.As(err, &gqlErrs)
}

func authorization(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || strings.Contains(token, " ") {
		return token
	}
	return "Bearer " + token
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client's protective state.
type ClientStatus struct {
	RateLimiter  RateLimiterStatus
	BreakerState circuitbreaker.State
	Breaker      circuitbreaker.Stats
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:  c.rateLimiter.Status(),
		BreakerState: c.breaker.State(),
		Breaker:      c.breaker.Stats(),
	}
}
