package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/extrame/xls"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// compound document header used by .xls
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// maxStockRows caps how many rows are read from a BIFF workbook.
const maxStockRows = 5000

// Combined COMEX silver stocks have stayed inside this band for decades.
// Anything outside it is a misread column, not a real inventory.
var (
	minStocksOz = decimal.NewFromInt(100_000_000)
	maxStocksOz = decimal.NewFromInt(1_000_000_000)
)

// InventoryOptions parameterise the CME warehouse stocks download.
type InventoryOptions struct {
	HTTPOptions
	URL string
}

// CMEInventory downloads and parses the daily silver stocks workbook.
type CMEInventory struct {
	opts   InventoryOptions
	client httpDoer
	logger zerolog.Logger
}

// NewCMEInventory constructs the downloader.
func NewCMEInventory(opts InventoryOptions, logger zerolog.Logger) *CMEInventory {
	return &CMEInventory{
		opts:   opts,
		client: newHTTPClient(opts.HTTPOptions),
		logger: logger.With().Str("component", "inventory_fetcher").Logger(),
	}
}

// Fetch downloads the workbook and parses the totals.
func (c *CMEInventory) Fetch(ctx context.Context) (InventoryReport, error) {
	if c.opts.URL == "" {
		return InventoryReport{}, errors.New("cme stocks: url not configured")
	}
	body, err := get(ctx, c.client, c.opts.URL, userAgent(c.opts.HTTPOptions), "")
	if err != nil {
		return InventoryReport{}, fmt.Errorf("cme stocks fetch: %w", err)
	}
	report, err := ParseInventoryWorkbook(bytes.NewReader(body))
	if err != nil {
		return InventoryReport{}, err
	}
	c.logger.Debug().
		Float64("registered_moz", report.RegisteredOz/1e6).
		Float64("eligible_moz", report.EligibleOz/1e6).
		Float64("total_moz", report.TotalOz/1e6).
		Msg("stocks parsed")
	return report, nil
}

// Provider exposes the downloader as a ranked inventory provider.
func (c *CMEInventory) Provider() Provider[InventoryReport] {
	return ProviderFunc[InventoryReport]{ID: "cme", Fn: c.Fetch}
}

// ReadInventoryFile parses a workbook saved on disk.
func ReadInventoryFile(path string) (InventoryReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return InventoryReport{}, fmt.Errorf("open stocks file: %w", err)
	}
	defer f.Close()
	return ParseInventoryWorkbook(f)
}

// ParseInventoryWorkbook reads a stocks workbook in either format: BIFF
// (.xls, as published by CME) or OOXML (.xlsx). See scanStockRows for how
// the totals are located.
func ParseInventoryWorkbook(r io.Reader) (InventoryReport, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return InventoryReport{}, fmt.Errorf("read stocks workbook: %w", err)
	}
	var rows [][]string
	if bytes.HasPrefix(data, oleMagic) {
		rows, err = legacyRows(data)
	} else {
		rows, err = workbookRows(data)
	}
	if err != nil {
		return InventoryReport{}, err
	}
	return scanStockRows(rows)
}

func workbookRows(data []byte) ([][]string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open stocks workbook: %w", err)
	}
	defer wb.Close()

	var all [][]string
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

// legacyRows flattens every sheet of a BIFF workbook. The reader panics on
// some malformed streams, so a panic is reported as a parse error.
func legacyRows(data []byte) (rows [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("read legacy stocks workbook: %v", r)
		}
	}()
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open legacy stocks workbook: %w", err)
	}
	if wb == nil || wb.NumSheets() == 0 {
		return nil, errors.New("open legacy stocks workbook: no worksheet stream")
	}
	return wb.ReadAllCells(maxStockRows), nil
}

// scanStockRows looks for the TOTAL REGISTERED, TOTAL ELIGIBLE and COMBINED
// TOTAL rows. The last positive number in a row is the closing inventory.
// The combined total falls back to the sum of the other two and must lie
// between 100M and 1B oz.
func scanStockRows(rows [][]string) (InventoryReport, error) {
	var registered, eligible, combined decimal.Decimal
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		label := strings.ToUpper(strings.TrimSpace(row[0]))
		closing, ok := lastPositive(row[1:])
		if !ok {
			continue
		}
		switch {
		case strings.Contains(label, "TOTAL REGISTERED"):
			registered = closing
		case strings.Contains(label, "TOTAL ELIGIBLE"):
			eligible = closing
		case strings.Contains(label, "COMBINED TOTAL"):
			combined = closing
		}
	}

	if combined.IsZero() {
		if registered.IsZero() || eligible.IsZero() {
			return InventoryReport{}, errors.New("cme stocks: total rows not found")
		}
		combined = registered.Add(eligible)
	}
	if combined.LessThan(minStocksOz) || combined.GreaterThan(maxStocksOz) {
		return InventoryReport{}, fmt.Errorf("cme stocks: combined total %s oz outside plausible range", combined.StringFixed(0))
	}
	return InventoryReport{
		RegisteredOz: registered.InexactFloat64(),
		EligibleOz:   eligible.InexactFloat64(),
		TotalOz:      combined.InexactFloat64(),
	}, nil
}

func lastPositive(cells []string) (decimal.Decimal, bool) {
	for i := len(cells) - 1; i >= 0; i-- {
		v, err := parseAmount(cells[i])
		if err == nil && v.IsPositive() {
			return v, true
		}
	}
	return decimal.Zero, false
}
