package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; silverwatch/1.0)"
	maxBodyBytes     = 16 << 20
)

// SpotQuote is a silver spot price in USD/oz.
type SpotQuote struct {
	PriceUSD     float64
	Change24h    *float64
	ChangePct24h *float64
	Source       string
	At           time.Time
}

// PremiumQuote is the physical-over-paper premium.
type PremiumQuote struct {
	Source        string
	ProductType   string
	SpotPrice     float64
	PhysicalPrice float64
	PremiumUSD    float64
	PremiumPct    float64
}

// MarginQuote is a CME margin requirement in USD per contract.
type MarginQuote struct {
	Contract    string
	Initial     float64
	Maintenance float64
}

// InventoryReport is a COMEX stocks report in ounces.
type InventoryReport struct {
	RegisteredOz float64
	EligibleOz   float64
	TotalOz      float64
}

// ShanghaiQuote is the Shanghai-over-western gap.
type ShanghaiQuote struct {
	Source       string
	ShanghaiSpot float64
	WesternSpot  float64
	PremiumUSD   float64
	PremiumPct   float64
}

// LeaseQuote is the lease-rate proxy and the prices behind it.
type LeaseQuote struct {
	RatePct      float64
	Spot         float64
	Futures      float64
	DaysToExpiry int
	Symbol       string
}

// HTTPOptions are shared by every scraping and API client.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
}

func newHTTPClient(opts HTTPOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func userAgent(opts HTTPOptions) string {
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		return ua
	}
	return defaultUserAgent
}

// get issues a GET and returns the body of a 200 response.
func get(ctx context.Context, client httpDoer, url, ua, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, snippet(body))
	}
	return body, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
