package fetcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MarginOptions parameterise the CME performance-bond scraper.
type MarginOptions struct {
	HTTPOptions
	URL      string
	Contract string
}

// CMEMargins scrapes the COMEX silver initial and maintenance margin.
type CMEMargins struct {
	opts   MarginOptions
	client httpDoer
	logger zerolog.Logger
}

// NewCMEMargins constructs the scraper.
func NewCMEMargins(opts MarginOptions, logger zerolog.Logger) *CMEMargins {
	if opts.Contract == "" {
		opts.Contract = "SI"
	}
	return &CMEMargins{
		opts:   opts,
		client: newHTTPClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "margin_fetcher").Logger(),
	}
}

var (
	// COMEX 5000 SILVER FUTURES | SI | <date> | <start period> | 25,000 USD
	marginRowPattern   = regexp.MustCompile(`(?i)COMEX\s*5000\s*SILVER\s*FUTURES?[^|]*\|\s*SI\s*\|[^|]*\|[^|]*\|\s*([\d,]+)\s*USD`)
	maintenancePattern = regexp.MustCompile(`(?i)COMEX\s*5000\s*SILVER[^\n]*maintenance[^\d]*([\d,]+)`)
	marginFallback     = regexp.MustCompile(`(?i)\bSI\b[^\d]*([\d,]+)\s*USD`)
)

// maintenance defaults to this share of initial when not published
var maintenanceRatio = decimal.RequireFromString("0.9")

// Fetch downloads and parses the margins page.
func (c *CMEMargins) Fetch(ctx context.Context) (MarginQuote, error) {
	if c.opts.URL == "" {
		return MarginQuote{}, errors.New("cme margins: url not configured")
	}
	body, err := get(ctx, c.client, c.opts.URL, userAgent(c.opts.HTTPOptions), "text/html")
	if err != nil {
		return MarginQuote{}, fmt.Errorf("cme margins fetch: %w", err)
	}
	quote, err := ParseMarginPage(string(body))
	if err != nil {
		return MarginQuote{}, err
	}
	quote.Contract = c.opts.Contract
	c.logger.Debug().Float64("initial", quote.Initial).Float64("maintenance", quote.Maintenance).Msg("margins scraped")
	return quote, nil
}

// ParseMarginPage finds the SI initial margin in the pipe-delimited listing,
// falling back to any "SI ... USD" amount in the page text.
func ParseMarginPage(page string) (MarginQuote, error) {
	text := PageText(page)
	m := marginRowPattern.FindStringSubmatch(text)
	if m == nil {
		m = marginFallback.FindStringSubmatch(text)
	}
	if m == nil {
		return MarginQuote{}, errors.New("cme margins: silver margin not found")
	}
	initial, err := parseAmount(m[1])
	if err != nil || !initial.IsPositive() {
		return MarginQuote{}, fmt.Errorf("cme margins: bad amount %q", m[1])
	}

	maintenance := initial.Mul(maintenanceRatio)
	if mm := maintenancePattern.FindStringSubmatch(text); mm != nil {
		if v, err := parseAmount(mm[1]); err == nil && v.IsPositive() {
			maintenance = v
		}
	}
	return MarginQuote{
		Contract:    "SI",
		Initial:     initial.InexactFloat64(),
		Maintenance: maintenance.Round(2).InexactFloat64(),
	}, nil
}

// Provider exposes the scraper as a ranked margin provider.
func (c *CMEMargins) Provider() Provider[MarginQuote] {
	return ProviderFunc[MarginQuote]{ID: "cme", Fn: c.Fetch}
}
