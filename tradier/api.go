package tradier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xhhuango/json"
)

const DefaultBaseURL = "https://api.tradier.com"

// Client talks to the Tradier market data REST API.
type Client struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
	// Location is the exchange timezone expirations are settled in.
	Location *time.Location
}

func NewClient(token string) *Client {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &Client{
		Token:    token,
		BaseURL:  DefaultBaseURL,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Location: loc,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to build request url: %w", err)
	}
	u.RawQuery = query.Encode()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	r.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	r.Header.Add("Accept", "application/json")

	resp, err := c.HTTP.Do(r)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s: %.200s", path, resp.Status, responseData)
	}
	if err := json.Unmarshal(responseData, dst); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// GetQuote returns the current quote of an equity symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	resp := &QuoteResponse{}
	if err := c.get(ctx, "/v1/markets/quotes", url.Values{"symbols": {symbol}}, resp); err != nil {
		return nil, err
	}
	if resp.Quotes.Quote.Symbol == "" {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &resp.Quotes.Quote, nil
}

// GetExpirations lists the option expirations of symbol, each with its
// strikes.
func (c *Client) GetExpirations(ctx context.Context, symbol string) (*OptionExpirations, error) {
	expirations := &OptionExpirations{}
	query := url.Values{
		"symbol":          {symbol},
		"includeAllRoots": {"true"},
		"strikes":         {"true"},
		"contractSize":    {"true"},
		"expirationType":  {"true"},
	}
	if err := c.get(ctx, "/v1/markets/options/expirations", query, expirations); err != nil {
		return nil, err
	}
	return expirations, nil
}

// GetOptionChain fetches every contract of symbol expiring on expiration
// (yyyy-MM-dd).
func (c *Client) GetOptionChain(ctx context.Context, symbol, expiration string) (*OptionChain, error) {
	optionChain := &OptionChain{}
	query := url.Values{
		"symbol":     {symbol},
		"expiration": {expiration},
		"greeks":     {"false"},
	}
	if err := c.get(ctx, "/v1/markets/options/chains", query, optionChain); err != nil {
		return nil, err
	}
	optionChain.ExpirationDate = expiration
	return optionChain, nil
}
