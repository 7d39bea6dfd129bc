package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// YahooOptions parameterise the Yahoo Finance chart client.
type YahooOptions struct {
	HTTPOptions
	BaseURL string
}

// Yahoo reads quotes from the Yahoo Finance v8 chart API.
type Yahoo struct {
	opts    YahooOptions
	baseURL string
	client  httpDoer
	logger  zerolog.Logger
}

// YahooQuote is the latest regular-market price of one symbol.
type YahooQuote struct {
	Symbol        string
	Price         float64
	PreviousClose float64
	At            time.Time
}

// NewYahoo constructs a Yahoo client.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Yahoo{
		opts:    opts,
		baseURL: baseURL,
		client:  newHTTPClient(opts.HTTPOptions),
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64    `json:"regularMarketTime"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
				PreviousClose      *float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote fetches the latest price of symbol. The meta regular-market price is
// preferred; the last non-null daily close is the fallback.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (YahooQuote, error) {
	if symbol == "" {
		return YahooQuote{}, errors.New("yahoo: symbol required")
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=5d", y.baseURL, url.PathEscape(symbol))

	body, err := get(ctx, y.client, u, userAgent(y.opts.HTTPOptions), "application/json")
	if err != nil {
		return YahooQuote{}, fmt.Errorf("yahoo fetch: %w", err)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return YahooQuote{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return YahooQuote{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return YahooQuote{}, errors.New("yahoo: no data returned")
	}

	result := chart.Chart.Result[0]
	quote := YahooQuote{Symbol: symbol}

	var closes []*float64
	if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}
	lastIdx := -1
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil && *closes[i] > 0 {
			lastIdx = i
			break
		}
	}

	switch {
	case result.Meta.RegularMarketPrice != nil && *result.Meta.RegularMarketPrice > 0:
		quote.Price = *result.Meta.RegularMarketPrice
		quote.At = time.Unix(result.Meta.RegularMarketTime, 0).UTC()
	case lastIdx >= 0:
		quote.Price = *closes[lastIdx]
		if lastIdx < len(result.Timestamp) {
			quote.At = time.Unix(result.Timestamp[lastIdx], 0).UTC()
		}
	default:
		return YahooQuote{}, fmt.Errorf("yahoo: no price for %s", symbol)
	}

	// the close before the latest one is the 24h reference
	for i := lastIdx - 1; i >= 0; i-- {
		if closes[i] != nil && *closes[i] > 0 {
			quote.PreviousClose = *closes[i]
			break
		}
	}
	if quote.PreviousClose == 0 {
		switch {
		case result.Meta.PreviousClose != nil:
			quote.PreviousClose = *result.Meta.PreviousClose
		case result.Meta.ChartPreviousClose != nil:
			quote.PreviousClose = *result.Meta.ChartPreviousClose
		}
	}

	y.logger.Debug().Str("symbol", symbol).Float64("price", quote.Price).Msg("yahoo quote")
	return quote, nil
}

// SpotProvider exposes symbol as a ranked spot provider.
func (y *Yahoo) SpotProvider(symbol string) Provider[SpotQuote] {
	return ProviderFunc[SpotQuote]{
		ID: "yahoo",
		Fn: func(ctx context.Context) (SpotQuote, error) {
			q, err := y.Quote(ctx, symbol)
			if err != nil {
				return SpotQuote{}, err
			}
			spot := SpotQuote{PriceUSD: q.Price, Source: "yahoo_finance", At: q.At}
			if q.PreviousClose > 0 {
				change := round(q.Price-q.PreviousClose, 4)
				pct := round(change/q.PreviousClose*100, 4)
				spot.Change24h, spot.ChangePct24h = &change, &pct
			}
			return spot, nil
		},
	}
}
