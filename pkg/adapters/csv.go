package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
)

// CSVAdapter reads a series from a delimited file with a header row.
//
// Example file:
//
//	date,score
//	2024-01-01,6
//	2024-01-02,7
type CSVAdapter struct {
	// Path is the file to read (required).
	Path string
	// SeriesName names the resulting series. Defaults to the value column.
	SeriesName string
	// DateColumn is the header of the date column. Defaults to the first column.
	DateColumn string
	// ValueColumn is the header of the value column. Defaults to the second column.
	ValueColumn string
	// DateLayout is the time layout of dates. Defaults to 2006-01-02.
	DateLayout string
	// Comma is the field delimiter. Defaults to ','.
	Comma rune
}

func (c *CSVAdapter) Name() string { return "csv" }

// Collect implements Adapter. Empty value cells are skipped; two rows on the
// same day are an error.
func (c *CSVAdapter) Collect(ctx context.Context) (series.Series, error) {
	if c.Path == "" {
		return series.Series{}, errors.New("csv adapter: Path is required")
	}
	if err := ctx.Err(); err != nil {
		return series.Series{}, err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return series.Series{}, fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer f.Close()

	return c.read(f)
}

func (c *CSVAdapter) read(r io.Reader) (series.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	if c.Comma != 0 {
		reader.Comma = c.Comma
	}

	header, err := reader.Read()
	if err != nil {
		return series.Series{}, fmt.Errorf("read header: %w", err)
	}
	dateIdx, err := columnIndex(header, c.DateColumn, 0)
	if err != nil {
		return series.Series{}, err
	}
	valueIdx, err := columnIndex(header, c.ValueColumn, 1)
	if err != nil {
		return series.Series{}, err
	}

	layout := c.DateLayout
	if layout == "" {
		layout = time.DateOnly
	}
	name := c.SeriesName
	if name == "" {
		name = strings.TrimSpace(header[valueIdx])
	}

	var pts []point
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return series.Series{}, fmt.Errorf("line %d: %w", line, err)
		}

		raw := strings.TrimSpace(rec[valueIdx])
		if raw == "" {
			continue
		}
		ts, err := time.Parse(layout, strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return series.Series{}, fmt.Errorf("line %d: parse date: %w", line, err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return series.Series{}, fmt.Errorf("line %d: parse value: %w", line, err)
		}
		pts = append(pts, point{ts: ts, value: v})
	}

	return toDaily(name, pts, false)
}

func columnIndex(header []string, name string, fallback int) (int, error) {
	if name == "" {
		if fallback >= len(header) {
			return 0, fmt.Errorf("header has %d columns, need at least %d", len(header), fallback+1)
		}
		return fallback, nil
	}
	idx := slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == name })
	if idx < 0 {
		return 0, fmt.Errorf("column %q not found in header %v", name, header)
	}
	return idx, nil
}
