package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func stocksWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

var stocksRows = [][]any{
	{"COMEX SILVER WAREHOUSE STOCKS"},
	{"DEPOSITORY", "PREV TOTAL", "RECEIVED", "WITHDRAWN", "TOTAL TODAY"},
	{"BRINKS REGISTERED", 20000000.0, 0, 0, 20100000.0},
	{"TOTAL REGISTERED", 114000000.0, 0, 0, 114262775.06},
	{"TOTAL ELIGIBLE", 303000000.0, 0, 0, 303898928.60},
	{"COMBINED TOTAL", 417000000.0, 0, 0, 418161703.66, ""},
}

func TestParseInventoryWorkbook(t *testing.T) {
	report, err := ParseInventoryWorkbook(bytes.NewReader(stocksWorkbook(t, stocksRows)))
	require.NoError(t, err)
	assert.InDelta(t, 114262775.06, report.RegisteredOz, 0.01)
	assert.InDelta(t, 303898928.60, report.EligibleOz, 0.01)
	assert.InDelta(t, 418161703.66, report.TotalOz, 0.01)
}

func TestParseInventoryWorkbookSumsWithoutCombined(t *testing.T) {
	report, err := ParseInventoryWorkbook(bytes.NewReader(stocksWorkbook(t, stocksRows[:5])))
	require.NoError(t, err)
	assert.InDelta(t, 418161703.66, report.TotalOz, 0.01)
}

func TestParseInventoryWorkbookMissingRows(t *testing.T) {
	_, err := ParseInventoryWorkbook(bytes.NewReader(stocksWorkbook(t, stocksRows[:3])))
	assert.Error(t, err)

	_, err = ParseInventoryWorkbook(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)

	broken := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 512)...)
	_, err = ParseInventoryWorkbook(bytes.NewReader(broken))
	assert.Error(t, err)
}

func TestParseInventoryWorkbookLegacyXLS(t *testing.T) {
	report, err := ReadInventoryFile(filepath.Join("testdata", "silver_stocks.xls"))
	require.NoError(t, err)
	assert.InDelta(t, 114262775.06, report.RegisteredOz, 0.01)
	assert.InDelta(t, 303898928.60, report.EligibleOz, 0.01)
	assert.InDelta(t, 418161703.66, report.TotalOz, 0.01)
}

func TestParseInventoryWorkbookRejectsImplausibleTotals(t *testing.T) {
	for name, total := range map[string]float64{
		"thousands column": 418161.70,
		"double counted":   1418161703.66,
	} {
		t.Run(name, func(t *testing.T) {
			rows := [][]any{
				{"TOTAL REGISTERED", 0, total / 4},
				{"TOTAL ELIGIBLE", 0, total * 3 / 4},
				{"COMBINED TOTAL", 0, total},
			}
			_, err := ParseInventoryWorkbook(bytes.NewReader(stocksWorkbook(t, rows)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "outside plausible range")
		})
	}
}

func TestCMEInventoryFetchLegacyXLS(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "silver_stocks.xls"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.ms-excel")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	c := NewCMEInventory(InventoryOptions{URL: srv.URL + "/Silver_stocks.xls"}, zerolog.Nop())
	report, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 418.16, report.TotalOz/1e6, 0.01)
}

func TestCMEInventoryFetchAndFile(t *testing.T) {
	data := stocksWorkbook(t, stocksRows)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	c := NewCMEInventory(InventoryOptions{URL: srv.URL}, zerolog.Nop())
	report, err := c.Provider().Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 418.16, report.TotalOz/1e6, 0.01)

	path := filepath.Join(t.TempDir(), "Silver_stocks.xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	fromFile, err := ReadInventoryFile(path)
	require.NoError(t, err)
	assert.Equal(t, report, fromFile)
}
