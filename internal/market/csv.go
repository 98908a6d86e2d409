package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simex/risk-engine/internal/model"
)

// CSV column layout: date,open,high,low,close,volume[,funding_rate].
// The funding_rate column is optional per file and per row; an empty cell
// means the tick carries no rate.

// LoadCSV reads a tick feed from a CSV file.
func LoadCSV(path string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("market: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a tick feed from CSV data.
func ReadCSV(r io.Reader) (*Feed, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("market: read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("market: csv missing column %q", required)
		}
	}
	fundingCol, hasFunding := col["funding_rate"]

	var ticks []model.Tick
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("market: read csv line %d: %w", line, err)
		}

		ts, err := parseTimestamp(record[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("market: csv line %d: %w", line, err)
		}

		tick := model.Tick{Timestamp: ts}
		for _, field := range []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &tick.Open},
			{"high", &tick.High},
			{"low", &tick.Low},
			{"close", &tick.Close},
			{"volume", &tick.Volume},
		} {
			v, err := decimal.NewFromString(strings.TrimSpace(record[col[field.name]]))
			if err != nil {
				return nil, fmt.Errorf("market: csv line %d, column %s: %w", line, field.name, err)
			}
			*field.dst = v
		}

		if hasFunding && fundingCol < len(record) {
			raw := strings.TrimSpace(record[fundingCol])
			if raw != "" {
				rate, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, fmt.Errorf("market: csv line %d, column funding_rate: %w", line, err)
				}
				tick.FundingRate = &rate
			}
		}

		ticks = append(ticks, tick)
	}

	return NewFeed(ticks)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
