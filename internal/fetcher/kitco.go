package fetcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// KitcoOptions parameterise the Kitco live silver page scraper.
type KitcoOptions struct {
	HTTPOptions
	URL string
}

// Kitco scrapes the silver bid from Kitco's public live-price page. It needs
// no API key.
type Kitco struct {
	opts   KitcoOptions
	client httpDoer
	logger zerolog.Logger
}

// NewKitco constructs the scraper.
func NewKitco(opts KitcoOptions, logger zerolog.Logger) *Kitco {
	if opts.URL == "" {
		opts.URL = "https://www.kitco.com/charts/livesilver.html"
	}
	return &Kitco{
		opts:   opts,
		client: newHTTPClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "kitco_fetcher").Logger(),
	}
}

var (
	kitcoClassPattern   = regexp.MustCompile(`(?i)price|bid|ask`)
	kitcoAmountPattern  = regexp.MustCompile(`\$?([\d,]+\.?\d*)`)
	kitcoScriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"silver"[^}]*"price":\s*([\d.]+)`),
		regexp.MustCompile(`(?i)silver[^{]*bid[^:]*:\s*([\d.]+)`),
	}

	// plausible silver spot range in USD/oz
	kitcoMinPrice = decimal.NewFromInt(15)
	kitcoMaxPrice = decimal.NewFromInt(200)
)

// Fetch downloads the page and returns the silver spot price. Kitco does not
// publish the 24h change in a stable place, so it is left empty.
func (k *Kitco) Fetch(ctx context.Context) (SpotQuote, error) {
	body, err := get(ctx, k.client, k.opts.URL, userAgent(k.opts.HTTPOptions), "text/html")
	if err != nil {
		return SpotQuote{}, fmt.Errorf("kitco fetch: %w", err)
	}
	price, err := ParseKitcoPage(string(body))
	if err != nil {
		return SpotQuote{}, err
	}
	k.logger.Debug().Str("price", price.StringFixed(2)).Msg("kitco spot")
	return SpotQuote{PriceUSD: price.InexactFloat64(), Source: "kitco", At: time.Now().UTC()}, nil
}

// SpotProvider exposes the scraper as a ranked spot provider.
func (k *Kitco) SpotProvider() Provider[SpotQuote] {
	return ProviderFunc[SpotQuote]{ID: "kitco", Fn: k.Fetch}
}

// ParseKitcoPage returns the first plausible price found in a span or div
// whose class mentions price, bid or ask. Embedded script data is searched
// when no such element carries one.
func ParseKitcoPage(page string) (decimal.Decimal, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return decimal.Zero, fmt.Errorf("kitco: parse page: %w", err)
	}

	var elements, scripts []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "span", "div":
				if kitcoClassPattern.MatchString(attr(n, "class")) {
					elements = append(elements, n)
				}
			case "script":
				scripts = append(scripts, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, n := range elements {
		m := kitcoAmountPattern.FindStringSubmatch(strings.TrimSpace(nodeText(n)))
		if m == nil {
			continue
		}
		if v, err := parseAmount(m[1]); err == nil && plausibleSilver(v) {
			return v, nil
		}
	}
	for _, n := range scripts {
		src := nodeText(n)
		for _, re := range kitcoScriptPatterns {
			m := re.FindStringSubmatch(src)
			if m == nil {
				continue
			}
			if v, err := parseAmount(m[1]); err == nil && plausibleSilver(v) {
				return v, nil
			}
		}
	}
	return decimal.Zero, errors.New("kitco: silver price not found")
}

func plausibleSilver(v decimal.Decimal) bool {
	return !v.LessThan(kitcoMinPrice) && !v.GreaterThan(kitcoMaxPrice)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
