package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pelias_geocoder/platform/validator"
)

const sampleProviders = `
providers:
  - name: geocode.earth
    base_url: https://api.geocode.earth/
    key: secret
    limit: 10
    unit: second
    endpoints:
      search: /v1/search
      structured: /v1/search/structured
      reverse: /v1/reverse
  - name: local
    base_url: http://localhost:4000
    key: ""
    limit: 100
    unit: minute
    endpoints:
      search: /v1/search
`

func TestParse(t *testing.T) {
	providers, err := Parse([]byte(sampleProviders), validator.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].BaseURL != "https://api.geocode.earth" {
		t.Fatalf("expected trailing slash trimmed, got %q", providers[0].BaseURL)
	}
	if providers[1].Unit.Window() != time.Minute {
		t.Fatalf("expected minute window, got %s", providers[1].Unit.Window())
	}
	_, err = providers[1].Endpoint(OpReverse)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Provider != "local" {
		t.Fatalf("expected ConfigError for missing reverse endpoint, got %v", err)
	}
}

func TestParse_RejectsInvalidProviders(t *testing.T) {
	cases := map[string]string{
		"zero limit": `
providers:
  - name: a
    base_url: http://a
    limit: 0
    unit: second
    endpoints: {search: /s}
`,
		"bad unit": `
providers:
  - name: a
    base_url: http://a
    limit: 1
    unit: hour
    endpoints: {search: /s}
`,
		"missing base url": `
providers:
  - name: a
    limit: 1
    unit: second
    endpoints: {search: /s}
`,
		"duplicate": `
providers:
  - {name: a, base_url: "http://a", limit: 1, unit: second, endpoints: {search: /s}}
  - {name: a, base_url: "http://b", limit: 1, unit: second, endpoints: {search: /s}}
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), validator.New()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParse_ConfigErrorNamesField(t *testing.T) {
	doc := `
providers:
  - name: a
    base_url: http://a
    limit: 1
    unit: hour
    endpoints: {search: /s}
`
	_, err := Parse([]byte(doc), validator.New())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Provider != "a" || !strings.Contains(cfgErr.Reason, "unit must be one of") {
		t.Fatalf("unexpected config error %q", cfgErr.Error())
	}
}

func TestFileSource_ReloadsOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yml")
	if err := os.WriteFile(path, []byte(sampleProviders), 0o600); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, validator.New())
	if _, err := Find(context.Background(), src, "local"); err != nil {
		t.Fatalf("expected local provider: %v", err)
	}

	updated := `
providers:
  - {name: other, base_url: "http://other", limit: 5, unit: second, endpoints: {search: /s}}
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Find(context.Background(), src, "local")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError after reload, got %v", err)
	}
	if _, err := Find(context.Background(), src, "other"); err != nil {
		t.Fatalf("expected reloaded provider: %v", err)
	}
}
