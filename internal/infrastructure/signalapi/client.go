package signalapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perp-backend/internal/domain"
)

// Client fetches the latest strategy signal for a symbol from the signal server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest returns nil without error when the server has no signal.
func (c *Client) Latest(ctx context.Context, strategy domain.StrategyKind, symbol string) (*domain.Signal, error) {
	u := fmt.Sprintf("%s/signals/%s?symbol=%s", c.baseURL, url.PathEscape(string(strategy)), url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: signal server returned %d", domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("signal server returned %d: %s", resp.StatusCode, body)
	}

	var raw struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Confidence string  `json:"confidence"`
		Price      float64 `json:"limit_price"`
		Score      float64 `json:"score"`
		Timestamp  int64   `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}

	sig := &domain.Signal{
		Strategy:   strategy,
		Symbol:     symbol,
		Side:       domain.ParseSide(raw.Side),
		Confidence: domain.ParseConfidence(raw.Confidence),
		LimitPrice: raw.Price,
		Score:      raw.Score,
		ReceivedAt: time.Now(),
	}
	if raw.Timestamp > 0 {
		sig.ReceivedAt = time.UnixMilli(raw.Timestamp)
	}
	return sig, nil
}
