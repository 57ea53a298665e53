package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/provider"
)

// columns names the CSV columns an operation reads.
type columns struct {
	id   string
	text string
	lon  string
	lat  string
}

// structuredColumns are read by name for structured searches.
var structuredColumns = []string{
	"address", "neighbourhood", "borough", "locality", "county", "region", "postalcode", "country",
}

// readItems parses a CSV with a header row into batch items for op.
func readItems(r io.Reader, op string, cols columns) ([]batch.Item, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	required := []string{cols.id}
	switch op {
	case provider.OpSearch:
		required = append(required, cols.text)
	case provider.OpReverse:
		required = append(required, cols.lon, cols.lat)
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	if op == provider.OpStructured && !hasAny(index, structuredColumns) {
		return nil, fmt.Errorf("no address columns, expected one of %s", strings.Join(structuredColumns, ", "))
	}

	items := make([]batch.Item, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		value := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		item := batch.Item{ID: value(cols.id)}
		switch op {
		case provider.OpSearch:
			item.Text = value(cols.text)
		case provider.OpStructured:
			item.Structured = batch.Structured{
				Address:       value("address"),
				Neighbourhood: value("neighbourhood"),
				Borough:       value("borough"),
				Locality:      value("locality"),
				County:        value("county"),
				Region:        value("region"),
				PostalCode:    value("postalcode"),
				Country:       value("country"),
			}
		case provider.OpReverse:
			// a row without coordinates is kept and reported by the run
			lon, lonErr := strconv.ParseFloat(value(cols.lon), 64)
			lat, latErr := strconv.ParseFloat(value(cols.lat), 64)
			if lonErr == nil && latErr == nil {
				item.Point = &batch.Point{Lon: lon, Lat: lat}
			}
		}
		items = append(items, item)
	}
}

func hasAny(index map[string]int, names []string) bool {
	for _, name := range names {
		if _, ok := index[name]; ok {
			return true
		}
	}
	return false
}
