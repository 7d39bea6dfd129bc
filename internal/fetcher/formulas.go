package fetcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred    = decimal.NewFromInt(100)
	daysInYear = decimal.NewFromInt(365)
)

// LeaseRateProxy annualises the futures/spot spread:
// ((F/S) - 1) * (365/days) * 100. Non-positive days yield zero; spot must
// be positive.
func LeaseRateProxy(spot, futures decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 || !spot.IsPositive() {
		return decimal.Zero
	}
	ratio := futures.Div(spot).Sub(decimal.NewFromInt(1))
	return ratio.Mul(daysInYear).Div(decimal.NewFromInt(int64(days))).Mul(hundred)
}

// ShanghaiFromWestern applies an observed USD/oz premium to the western spot.
func ShanghaiFromWestern(western, premiumUSD decimal.Decimal, source string) ShanghaiQuote {
	pct := decimal.Zero
	if western.IsPositive() {
		pct = premiumUSD.Div(western).Mul(hundred)
	}
	return ShanghaiQuote{
		Source:       source,
		WesternSpot:  western.Round(4).InexactFloat64(),
		ShanghaiSpot: western.Add(premiumUSD).Round(4).InexactFloat64(),
		PremiumUSD:   premiumUSD.Round(4).InexactFloat64(),
		PremiumPct:   pct.Round(4).InexactFloat64(),
	}
}

// PremiumFromPrices derives the physical premium over paper.
func PremiumFromPrices(source, productType string, paper, physical decimal.Decimal) (PremiumQuote, error) {
	if !paper.IsPositive() {
		return PremiumQuote{}, fmt.Errorf("paper price must be positive, got %s", paper)
	}
	premium := physical.Sub(paper)
	return PremiumQuote{
		Source:        source,
		ProductType:   productType,
		SpotPrice:     paper.Round(4).InexactFloat64(),
		PhysicalPrice: physical.Round(4).InexactFloat64(),
		PremiumUSD:    premium.Round(4).InexactFloat64(),
		PremiumPct:    premium.Div(paper).Mul(hundred).Round(2).InexactFloat64(),
	}, nil
}

// EstimatedPremium applies a fixed premium percentage to spot.
func EstimatedPremium(spot decimal.Decimal, pct float64) (PremiumQuote, error) {
	physical := spot.Mul(decimal.NewFromFloat(pct).Div(hundred).Add(decimal.NewFromInt(1)))
	return PremiumFromPrices("estimate", "estimate", spot, physical)
}

var futuresMonthCodes = [...]byte{'F', 'G', 'H', 'J', 'K', 'M', 'N', 'Q', 'U', 'V', 'X', 'Z'}

// DeferredSymbol names the COMEX silver contract monthsOut months after at,
// in Yahoo Finance form (e.g. SIK26.CMX).
func DeferredSymbol(at time.Time, monthsOut int) string {
	month := int(at.Month()) - 1 + monthsOut
	year := at.Year() + month/12
	month %= 12
	return fmt.Sprintf("SI%c%02d.CMX", futuresMonthCodes[month], year%100)
}
