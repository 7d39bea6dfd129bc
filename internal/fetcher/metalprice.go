package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MetalpriceOptions parameterise the MetalpriceAPI client.
type MetalpriceOptions struct {
	HTTPOptions
	BaseURL string
	APIKey  string
}

// MetalRates is the USD-based silver price and CNY rate.
type MetalRates struct {
	SilverUSD float64
	USDCNY    float64
}

// Metalprice reads api.metalpriceapi.com/v1/latest.
type Metalprice struct {
	opts    MetalpriceOptions
	baseURL string
	client  httpDoer
	logger  zerolog.Logger
}

// NewMetalprice constructs a MetalpriceAPI client.
func NewMetalprice(opts MetalpriceOptions, logger zerolog.Logger) *Metalprice {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.metalpriceapi.com/v1"
	}
	return &Metalprice{
		opts:    opts,
		baseURL: baseURL,
		client:  newHTTPClient(opts.HTTPOptions),
		logger:  logger.With().Str("component", "metalprice_fetcher").Logger(),
	}
}

type metalpriceResponse struct {
	Success bool               `json:"success"`
	Rates   map[string]float64 `json:"rates"`
	Error   *struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
		Info       string `json:"info"`
	} `json:"error"`
}

// Rates fetches the silver price and the CNY rate. USDXAG is the direct
// USD/oz quote; 1/XAG is used when the direct quote is absent.
func (m *Metalprice) Rates(ctx context.Context) (MetalRates, error) {
	if m.opts.APIKey == "" {
		return MetalRates{}, errors.New("metalpriceapi: api key not configured")
	}

	q := url.Values{}
	q.Set("api_key", m.opts.APIKey)
	q.Set("base", "USD")
	q.Set("currencies", "XAG,CNY")
	u := m.baseURL + "/latest?" + q.Encode()

	body, err := get(ctx, m.client, u, userAgent(m.opts.HTTPOptions), "application/json")
	if err != nil {
		return MetalRates{}, fmt.Errorf("metalpriceapi fetch: %w", err)
	}

	var res metalpriceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return MetalRates{}, fmt.Errorf("metalpriceapi decode: %w", err)
	}
	if !res.Success {
		msg := "unknown error"
		if res.Error != nil {
			msg = res.Error.Info
			if msg == "" {
				msg = res.Error.Message
			}
		}
		return MetalRates{}, fmt.Errorf("metalpriceapi error: %s", msg)
	}

	rates := MetalRates{USDCNY: res.Rates["CNY"]}
	if direct := res.Rates["USDXAG"]; direct > 0 {
		rates.SilverUSD = direct
	} else if xag := res.Rates["XAG"]; xag > 0 {
		rates.SilverUSD = decimal.NewFromInt(1).Div(decimal.NewFromFloat(xag)).Round(4).InexactFloat64()
	} else {
		return MetalRates{}, errors.New("metalpriceapi: XAG rate missing")
	}

	m.logger.Debug().Float64("silver_usd", rates.SilverUSD).Float64("usd_cny", rates.USDCNY).Msg("metalpriceapi rates")
	return rates, nil
}

// SpotProvider exposes the API as a ranked spot provider.
func (m *Metalprice) SpotProvider() Provider[SpotQuote] {
	return ProviderFunc[SpotQuote]{
		ID: "metalpriceapi",
		Fn: func(ctx context.Context) (SpotQuote, error) {
			rates, err := m.Rates(ctx)
			if err != nil {
				return SpotQuote{}, err
			}
			return SpotQuote{PriceUSD: rates.SilverUSD, Source: "metalpriceapi"}, nil
		},
	}
}
