package convert

import (
	"math"
	"strconv"
	"strings"
	"testing"
)

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		40:         "40",
		40.1:       "40.1",
		40.001:     "40.001",
		40.0015:    "40.0015",
		-73.98765:  "-73.98765",
		0.0000001:  "0",
		-0.000001:  "-0.000001",
		13.1234567: "13.123457",
	}

	for in, want := range cases {
		if got := FormatFloat(in); got != want {
			t.Fatalf("FormatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatFloat_TrailingZeroLiteral(t *testing.T) {
	if got := FormatFloat(40.0); got != "40" {
		t.Fatalf("expected 40, got %q", got)
	}
	if got := FormatFloat(40.0010); got != "40.001" {
		t.Fatalf("expected 40.001, got %q", got)
	}
}

func TestFormatFloat_NoTrailingZerosAndRoundTrips(t *testing.T) {
	values := []float64{0, 1, -1, 0.5, 12.3456789, -179.25, 89.1, 1e7 + 0.25, 3.14159265}
	for _, x := range values {
		got := FormatFloat(x)
		if strings.Contains(got, ".") && strings.HasSuffix(got, "0") {
			t.Fatalf("FormatFloat(%v) = %q has trailing zeros", x, got)
		}
		if strings.HasSuffix(got, ".") {
			t.Fatalf("FormatFloat(%v) = %q has bare decimal point", x, got)
		}
		parsed, err := strconv.ParseFloat(got, 64)
		if err != nil {
			t.Fatalf("FormatFloat(%v) = %q does not parse: %v", x, got, err)
		}
		if math.Abs(parsed-math.Round(x*1e6)/1e6) >= 1e-9 {
			t.Fatalf("FormatFloat(%v) = %q drifts from 6-decimal rounding", x, got)
		}
	}
}

func TestCommaList(t *testing.T) {
	if got := CommaList([]string{"a", "b", "c"}); got != "a,b,c" {
		t.Fatalf("expected a,b,c, got %q", got)
	}
	if got := CommaList([]int{1, 2}); got != "1,2" {
		t.Fatalf("expected 1,2, got %q", got)
	}
	if got := CommaList([]string(nil)); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
