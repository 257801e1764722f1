package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	cgBaseDemo = "https://api.coingecko.com/api/v3"
	cgBasePro  = "https://pro-api.coingecko.com/api/v3"
)

type cgHTTPError struct {
	Status      int
	URL         string
	Body        string
	RateLimited bool
}

func (e *cgHTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.URL, e.Body)
}

func newCGHTTPError(resp *http.Response, body []byte) *cgHTTPError {
	msg := strings.TrimSpace(string(body))
	return &cgHTTPError{
		Status:      resp.StatusCode,
		URL:         resp.Request.URL.String(),
		Body:        msg,
		RateLimited: resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "throttled"),
	}
}

type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string
	Pro     bool
	Timeout time.Duration
	// FeedIDs maps a token symbol to its coingecko id (e.g. "ETH" -> "ethereum").
	FeedIDs map[string]string
}

// CoinGecko looks prices up through the /simple/price endpoint.
type CoinGecko struct {
	cli   *http.Client
	base  string
	key   string
	isPro bool
	ids   map[string]string
	log   *zap.Logger
}

func NewCoinGecko(cfg CoinGeckoConfig, log *zap.Logger) *CoinGecko {
	base := cfg.BaseURL
	if base == "" {
		base = cgBaseDemo
		if cfg.Pro {
			base = cgBasePro
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ids := make(map[string]string, len(cfg.FeedIDs))
	for sym, id := range cfg.FeedIDs {
		ids[strings.ToUpper(sym)] = id
	}
	return &CoinGecko{
		cli:   &http.Client{Timeout: timeout},
		base:  strings.TrimRight(base, "/"),
		key:   cfg.APIKey,
		isPro: cfg.Pro,
		ids:   ids,
		log:   log,
	}
}

func (c *CoinGecko) Price(ctx context.Context, symbol string) (Quote, error) {
	id, ok := c.ids[strings.ToUpper(symbol)]
	if !ok || id == "" {
		return Quote{}, unavailable(symbol, fmt.Errorf("no feed id"))
	}

	req, err := c.makeReq(ctx, "/simple/price?ids="+url.QueryEscape(id)+"&vs_currencies=usd&include_last_updated_at=true")
	if err != nil {
		return Quote{}, unavailable(symbol, err)
	}

	var body map[string]struct {
		USD           float64 `json:"usd"`
		LastUpdatedAt int64   `json:"last_updated_at"`
	}
	if err := c.doJSON(req, &body); err != nil {
		c.log.Debug("coingecko lookup failed", zap.String("symbol", symbol), zap.String("feed_id", id), zap.Error(err))
		return Quote{}, unavailable(symbol, err)
	}

	row, ok := body[id]
	if !ok || row.USD <= 0 {
		return Quote{}, unavailable(symbol, fmt.Errorf("no usd price for %s", id))
	}
	ts := time.Now()
	if row.LastUpdatedAt > 0 {
		ts = time.Unix(row.LastUpdatedAt, 0)
	}
	return Quote{Symbol: symbol, USD: row.USD, Ts: ts}, nil
}

func (c *CoinGecko) makeReq(ctx context.Context, pathAndQuery string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		if c.isPro {
			req.Header.Set("x-cg-pro-api-key", c.key)
		} else {
			req.Header.Set("x-cg-demo-api-key", c.key)
		}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *CoinGecko) doJSON(req *http.Request, v any) error {
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		he := newCGHTTPError(resp, b)
		if he.RateLimited {
			c.log.Warn("coingecko rate limited", zap.String("url", he.URL))
		}
		return he
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
