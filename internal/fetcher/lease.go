package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LeaseOptions configure the futures-curve lease-rate proxy.
type LeaseOptions struct {
	SpotSymbol string
	// FuturesSymbol pins the deferred contract; empty derives it from DaysToExpiry.
	FuturesSymbol string
	DaysToExpiry  int
	Now           func() time.Time
}

// LeaseProvider compares the front contract with the contract roughly
// DaysToExpiry out and annualises the spread.
func (y *Yahoo) LeaseProvider(opts LeaseOptions) Provider[LeaseQuote] {
	if opts.SpotSymbol == "" {
		opts.SpotSymbol = "SI=F"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return ProviderFunc[LeaseQuote]{
		ID: "futures_curve",
		Fn: func(ctx context.Context) (LeaseQuote, error) {
			if opts.DaysToExpiry <= 0 {
				return LeaseQuote{}, errors.New("lease: days to expiry must be positive")
			}
			spot, err := y.Quote(ctx, opts.SpotSymbol)
			if err != nil {
				return LeaseQuote{}, fmt.Errorf("lease spot: %w", err)
			}
			symbol := opts.FuturesSymbol
			if symbol == "" {
				symbol = DeferredSymbol(opts.Now().UTC(), (opts.DaysToExpiry+15)/30)
			}
			deferred, err := y.Quote(ctx, symbol)
			if err != nil {
				return LeaseQuote{}, fmt.Errorf("lease deferred %s: %w", symbol, err)
			}

			rate := LeaseRateProxy(decimal.NewFromFloat(spot.Price), decimal.NewFromFloat(deferred.Price), opts.DaysToExpiry)
			return LeaseQuote{
				RatePct:      rate.Round(4).InexactFloat64(),
				Spot:         spot.Price,
				Futures:      deferred.Price,
				DaysToExpiry: opts.DaysToExpiry,
				Symbol:       symbol,
			}, nil
		},
	}
}

// ShanghaiProvider applies a fixed observed premium to the western spot
// returned by spot.
func ShanghaiProvider(spot func(ctx context.Context) (float64, error), premiumUSD float64) Provider[ShanghaiQuote] {
	return ProviderFunc[ShanghaiQuote]{
		ID: "observed_premium",
		Fn: func(ctx context.Context) (ShanghaiQuote, error) {
			western, err := spot(ctx)
			if err != nil {
				return ShanghaiQuote{}, err
			}
			if western <= 0 {
				return ShanghaiQuote{}, errors.New("shanghai: western spot must be positive")
			}
			return ShanghaiFromWestern(decimal.NewFromFloat(western), decimal.NewFromFloat(premiumUSD), "SGE"), nil
		},
	}
}
