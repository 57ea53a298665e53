// Package convert formats request parameters for the geocoding API.
package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatFloat renders a coordinate as short as possible while keeping six
// decimals of precision: 40 -> "40", 40.1 -> "40.1", 40.0010 -> "40.001".
func FormatFloat(x float64) string {
	s := strconv.FormatFloat(x, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// CommaList joins values with commas.
func CommaList[T any](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
