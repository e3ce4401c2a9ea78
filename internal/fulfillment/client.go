// Package fulfillment reconciles pickup orders with the delivery service: it
// searches the carrier for orders created after the local order date and
// turns matches into return-tracking updates for the records platform.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"logistics/internal/logging"
	"logistics/pkg/domain"
)

var (
	// ErrLookupExhausted is returned when every retry of a carrier search failed.
	ErrLookupExhausted = errors.New("carrier lookup retries exhausted")
	// ErrMalformedResponse marks a carrier reply that cannot be decoded. It is
	// not retried.
	ErrMalformedResponse = errors.New("malformed carrier response")
)

// Config holds carrier search settings.
type Config struct {
	SearchURL       string
	Authorization   string // user:password
	ProjectMarker   string
	Timeout         time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultConfig returns the production retry policy: five attempts starting
// at half a second and doubling.
func DefaultConfig() Config {
	return Config{
		ProjectMarker:   "CASCADIA",
		Timeout:         30 * time.Second,
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
	}
}

// Recorder counts retried carrier calls.
type Recorder interface {
	Retry(operation string)
}

type nopRecorder struct{}

func (nopRecorder) Retry(string) {}

// Client searches carrier orders.
type Client struct {
	cfg      Config
	http     *http.Client
	recorder Recorder
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRecorder attaches a retry counter.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient builds a carrier search client. Zero retry settings fall back
// to DefaultConfig.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.ProjectMarker == "" {
		cfg.ProjectMarker = def.ProjectMarker
	}
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		recorder: nopRecorder{},
		logger:   logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reference is a carrier reference number. The API returns it as either a
// JSON string or a number.
type Reference string

// UnmarshalJSON accepts strings, numbers and null.
func (r *Reference) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reference(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("reference number: %w", err)
	}
	*r = Reference(n.String())
	return nil
}

// Item is one carrier order in a search reply.
type Item struct {
	OrderID          string    `json:"orderId"`
	CreatedAt        string    `json:"createdAt"`
	ReferenceNumber1 Reference `json:"referenceNumber1"`
	ReferenceNumber3 string    `json:"referenceNumber3"`
}

// SearchResponse is the carrier order search reply.
type SearchResponse struct {
	TotalCount int    `json:"totalCount"`
	Items      []Item `json:"items"`
}

type searchRequest struct {
	Query        string   `json:"query"`
	SearchFields []string `json:"searchFields"`
}

// Search looks up carrier orders by reference id, retrying transport
// failures, non-2xx replies and timeouts with exponential backoff.
func (c *Client) Search(ctx context.Context, referenceID string) (SearchResponse, error) {
	payload, err := json.Marshal(searchRequest{Query: referenceID, SearchFields: []string{"referenceNumber1"}})
	if err != nil {
		return SearchResponse{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.Multiplier = c.cfg.Multiplier
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (SearchResponse, error) {
		attempt++
		resp, err := c.search(ctx, payload)
		if errors.Is(err, ErrMalformedResponse) {
			return SearchResponse{}, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		c.recorder.Retry("carrier.search")
		c.logger.Warn("carrier search failed, retrying",
			zap.String("reference", referenceID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, ErrMalformedResponse):
		return SearchResponse{}, err
	case ctx.Err() != nil:
		return SearchResponse{}, ctx.Err()
	default:
		return SearchResponse{}, fmt.Errorf("%w after %d attempts: %w", ErrLookupExhausted, attempt, err)
	}
}

func (c *Client) search(ctx context.Context, payload []byte) (SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SearchURL, bytes.NewReader(payload))
	if err != nil {
		return SearchResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/*+json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.cfg.Authorization)))

	resp, err := c.http.Do(req)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("carrier search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return SearchResponse{}, fmt.Errorf("read carrier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SearchResponse{}, fmt.Errorf("carrier search status %d", resp.StatusCode)
	}
	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return SearchResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// Lookup returns the carrier order id for o, if one qualifies.
func (c *Client) Lookup(ctx context.Context, o domain.Order) (string, bool, error) {
	id := canonicalID(o.EntityID)
	logger := c.logger.With(zap.String("record", id))
	logger.Info("looking up carrier order")

	resp, err := c.Search(ctx, id)
	if err != nil {
		return "", false, err
	}
	if resp.TotalCount == 0 || len(resp.Items) == 0 {
		logger.Info("no carrier orders found")
		return "", false, nil
	}
	orderID, ok := Match(resp.Items, id, c.cfg.ProjectMarker, o.OrderDate, logger)
	if !ok {
		logger.Info("no qualifying carrier order, nothing to update")
	}
	return orderID, ok, nil
}

// Match picks the carrier order for a record. An item qualifies when its
// first reference equals id, its third reference contains marker and it was
// created strictly after orderDate. When several qualify the last one in
// response order wins.
func Match(items []Item, id, marker string, orderDate time.Time, logger *zap.Logger) (string, bool) {
	logger = logging.OrNop(logger)
	var (
		match string
		found bool
	)
	for _, it := range items {
		if strings.TrimSpace(string(it.ReferenceNumber1)) != id {
			logger.Warn("record ids do not match, skipping carrier order", zap.String("order_id", it.OrderID))
			continue
		}
		if !strings.Contains(it.ReferenceNumber3, marker) {
			logger.Warn("project names do not match, skipping carrier order", zap.String("order_id", it.OrderID))
			continue
		}
		created, ok := parseCreatedAt(it.CreatedAt)
		if !ok {
			logger.Warn("unparsable carrier creation time", zap.String("order_id", it.OrderID), zap.String("created_at", it.CreatedAt))
			continue
		}
		if !created.After(orderDate) {
			logger.Debug("carrier order predates local order, skipping",
				zap.String("order_id", it.OrderID),
				zap.Time("created_at", created),
				zap.Time("order_date", orderDate))
			continue
		}
		match, found = it.OrderID, true
	}
	return match, found
}

// parseCreatedAt reads the wall-clock part of a carrier timestamp and drops
// the zone, matching how local order dates are recorded.
func parseCreatedAt(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 19 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02T15:04:05", raw[:19])
	return t, err == nil
}

func canonicalID(raw string) string {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return raw
}
