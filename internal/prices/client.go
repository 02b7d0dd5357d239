package prices

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// QuoteClientConfig configures the live quote API client.
type QuoteClientConfig struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
}

// Quote is one normalized provider quote.
type Quote struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	PrevClose   float64 `json:"prev_close"`
	Volume      int64   `json:"volume"`
	TimestampMs int64   `json:"timestamp"`
}

// Quoter fetches one symbol's quote; satisfied by QuoteClient and by test
// fakes.
type Quoter interface {
	Fetch(ctx context.Context, symbol string) (*Quote, error)
}

// QuoteClient is a rate-limited JSON quote API client. A missing API key is
// a configuration error surfaced at construction, never retried.
type QuoteClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewQuoteClient validates config and builds the client.
func NewQuoteClient(cfg QuoteClientConfig) (*QuoteClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &SourceError{Kind: "config", Message: "quote API key is required"}
	}
	if cfg.BaseURL == "" {
		return nil, &SourceError{Kind: "config", Message: "quote API base URL is required"}
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("X-Api-Key", cfg.APIKey)
	return &QuoteClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

// Fetch retrieves one quote, honoring the client-side rate limit.
func (c *QuoteClient) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &SourceError{Kind: "bad_symbol", Symbol: symbol, Message: "empty symbol"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SourceError{Kind: "rate_limit", Symbol: symbol, Message: "rate limiter wait aborted", Cause: err}
	}

	var q Quote
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&q).
		Get("/v1/quote")
	if err != nil {
		return nil, &SourceError{Kind: "network", Symbol: symbol, Message: "quote request failed", Cause: err}
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, &SourceError{Kind: "rate_limit", Symbol: symbol, Message: "provider rate limit"}
	case resp.StatusCode() == http.StatusNotFound:
		return nil, &SourceError{Kind: "bad_symbol", Symbol: symbol, Message: "symbol not found"}
	case resp.IsError():
		return nil, &SourceError{
			Kind: "provider_error", Symbol: symbol,
			Message: fmt.Sprintf("provider returned %d", resp.StatusCode()),
		}
	}
	if q.Price <= 0 {
		return nil, &SourceError{Kind: "provider_error", Symbol: symbol, Message: "non-positive price in response"}
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.TimestampMs == 0 {
		q.TimestampMs = nowMs()
	}
	return &q, nil
}
