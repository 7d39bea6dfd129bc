package fetcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PremiumOptions parameterise the papervsphysical scraper.
type PremiumOptions struct {
	HTTPOptions
	URL         string
	ProductType string
}

// PremiumScraper reads paper and average physical prices from a dashboard page.
type PremiumScraper struct {
	opts   PremiumOptions
	client httpDoer
	logger zerolog.Logger
}

// NewPremiumScraper constructs a scraper for opts.URL.
func NewPremiumScraper(opts PremiumOptions, logger zerolog.Logger) *PremiumScraper {
	if opts.URL == "" {
		opts.URL = "https://papervsphysical.com"
	}
	if opts.ProductType == "" {
		opts.ProductType = "average"
	}
	return &PremiumScraper{
		opts:   opts,
		client: newHTTPClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "premium_fetcher").Logger(),
	}
}

var (
	paperPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)PAPER\s*/\s*SPOT\s*PRICE\s*[─\-:]\s*\$?([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)paper\s*(?:/\s*spot)?\s*(?:price)?[:\s─\-]*\$([\d,]+\.?\d*)`),
	}
	physicalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)AVG\.?\s*PHYSICAL\s*PRICE\s*[─\-:]\s*\$?([\d,]+\.?\d*)`),
		regexp.MustCompile(`(?i)physical\s*(?:price)?[:\s─\-]*\$([\d,]+\.?\d*)`),
	}
)

// Fetch scrapes the page and derives the premium.
func (p *PremiumScraper) Fetch(ctx context.Context) (PremiumQuote, error) {
	body, err := get(ctx, p.client, p.opts.URL, userAgent(p.opts.HTTPOptions), "text/html")
	if err != nil {
		return PremiumQuote{}, fmt.Errorf("premium fetch: %w", err)
	}
	quote, err := ParsePremiumPage(string(body), p.opts.ProductType)
	if err != nil {
		return PremiumQuote{}, err
	}
	p.logger.Debug().Float64("paper", quote.SpotPrice).Float64("physical", quote.PhysicalPrice).Float64("premium_pct", quote.PremiumPct).Msg("premium scraped")
	return quote, nil
}

// ParsePremiumPage extracts paper and physical prices from HTML or plain text.
func ParsePremiumPage(page, productType string) (PremiumQuote, error) {
	text := PageText(page)

	paper, ok := firstAmount(text, paperPatterns)
	if !ok {
		return PremiumQuote{}, errors.New("premium: paper price not found")
	}
	physical, ok := firstAmount(text, physicalPatterns)
	if !ok {
		return PremiumQuote{}, errors.New("premium: physical price not found")
	}
	return PremiumFromPrices("papervsphysical", productType, paper, physical)
}

func firstAmount(text string, patterns []*regexp.Regexp) (decimal.Decimal, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := parseAmount(m[1]); err == nil && v.IsPositive() {
			return v, true
		}
	}
	return decimal.Zero, false
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
}

// Provider exposes the scraper as a ranked premium provider.
func (p *PremiumScraper) Provider() Provider[PremiumQuote] {
	return ProviderFunc[PremiumQuote]{ID: "papervsphysical", Fn: p.Fetch}
}

// EstimateProvider derives a premium from a spot price and a fixed
// percentage. It is the last resort after the scrapers.
func EstimateProvider(spot func(ctx context.Context) (float64, error), pct float64) Provider[PremiumQuote] {
	return ProviderFunc[PremiumQuote]{
		ID: "estimate",
		Fn: func(ctx context.Context) (PremiumQuote, error) {
			price, err := spot(ctx)
			if err != nil {
				return PremiumQuote{}, err
			}
			return EstimatedPremium(decimal.NewFromFloat(price), pct)
		},
	}
}
