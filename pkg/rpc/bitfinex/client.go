package bitfinex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/utils"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api-pub.bitfinex.com"
	tickersPath    = "/v2/tickers"
)

// Ticker array positions.
const (
	idxSymbol = iota
	idxBid
	idxBidSize
	idxAsk
	idxAskSize
	idxDailyChange
	idxDailyChangeRelative
	idxLastPrice
	idxVolume
	idxHigh
	idxLow
	tickerLen
)

// ErrMalformedTicker is returned when a ticker does not have the documented shape.
var ErrMalformedTicker = errors.New("malformed ticker")

// Client fetches public tickers.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

func New(logger *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// Symbol is the trading symbol of pair, e.g. tBTCUSD. Currencies longer than three letters
// are separated by a colon.
func Symbol(pair indexer.Pair) string {
	if len(pair.Base) > 3 || len(pair.Quote) > 3 {
		return "t" + pair.Base + ":" + pair.Quote
	}
	return "t" + pair.Base + pair.Quote
}

// Prices returns the latest quote for every pair the exchange knows. Unknown symbols are
// skipped and logged.
func (c *Client) Prices(ctx context.Context, pairs []indexer.Pair) ([]indexer.Price, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	bySymbol := make(map[string]indexer.Pair, len(pairs))
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		s := Symbol(p)
		if _, dup := bySymbol[s]; dup {
			continue
		}
		bySymbol[s] = p
		symbols = append(symbols, s)
	}

	u := c.baseURL + tickersPath + "?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get tickers: %w", err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get tickers: http %d", resp.StatusCode)
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTicker, err)
	}

	now := c.now().UTC()
	out := make([]indexer.Price, 0, len(raw))
	for _, t := range raw {
		price, symbol, err := parseTicker(t)
		if err != nil {
			return nil, err
		}
		pair, ok := bySymbol[symbol]
		if !ok {
			c.logger.Debug("ignoring unrequested ticker", zap.String("symbol", symbol))
			continue
		}
		price.Pair = pair
		price.UpdatedAt = now
		out = append(out, price)
		delete(bySymbol, symbol)
	}
	for symbol := range bySymbol {
		c.logger.Warn("no ticker returned for symbol", zap.String("symbol", symbol))
	}
	return out, nil
}

func parseTicker(t []json.RawMessage) (indexer.Price, string, error) {
	if len(t) < tickerLen {
		return indexer.Price{}, "", fmt.Errorf("%w: %d fields", ErrMalformedTicker, len(t))
	}
	var symbol string
	if err := json.Unmarshal(t[idxSymbol], &symbol); err != nil {
		return indexer.Price{}, "", fmt.Errorf("%w: symbol: %w", ErrMalformedTicker, err)
	}
	var p indexer.Price
	fields := map[int]*float64{
		idxBid:                 &p.Bid,
		idxAsk:                 &p.Ask,
		idxDailyChangeRelative: &p.DailyChangeRelative,
		idxHigh:                &p.High,
		idxLow:                 &p.Low,
	}
	for idx, dst := range fields {
		if err := json.Unmarshal(t[idx], dst); err != nil {
			return indexer.Price{}, "", fmt.Errorf("%w: %s field %d: %w", ErrMalformedTicker, symbol, idx, err)
		}
	}
	return p, symbol, nil
}
