package stress

import (
	"errors"
	"fmt"
	"time"
)

// Config is the immutable calibration handed to an Engine.
type Config struct {
	Thresholds        Table
	CompositeBands    []Band
	TrendThreshold    float64
	TrendWindow       time.Duration
	ContractSizeOz    float64
	DefaultStableDays int
}

// DefaultConfig returns the production calibration.
func DefaultConfig() Config {
	return Config{
		Thresholds:        DefaultTable(),
		CompositeBands:    DefaultBands(),
		TrendThreshold:    DefaultTrendThreshold,
		TrendWindow:       14 * 24 * time.Hour,
		ContractSizeOz:    5000,
		DefaultStableDays: 30,
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateBands(c.CompositeBands); err != nil {
		errs = append(errs, fmt.Errorf("composite bands: %w", err))
	}
	if c.TrendThreshold <= 0 {
		errs = append(errs, errors.New("trend threshold must be greater than zero"))
	}
	if c.TrendWindow <= 0 {
		errs = append(errs, errors.New("trend window must be greater than zero"))
	}
	if c.ContractSizeOz <= 0 {
		errs = append(errs, errors.New("contract size must be greater than zero"))
	}
	if c.DefaultStableDays < 0 {
		errs = append(errs, errors.New("default stable days cannot be negative"))
	}
	return errors.Join(errs...)
}

// Engine runs the normalizers and the composite aggregator. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine bound to it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stress config: %w", err)
	}
	bands := make([]Band, len(cfg.CompositeBands))
	copy(bands, cfg.CompositeBands)
	cfg.CompositeBands = bands
	cfg.Thresholds = cfg.Thresholds.Clone()
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine calibration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Thresholds = e.cfg.Thresholds.Clone()
	cfg.CompositeBands = append([]Band(nil), e.cfg.CompositeBands...)
	return cfg
}

func (e *Engine) set(name string) ThresholdSet {
	return e.cfg.Thresholds[name]
}
