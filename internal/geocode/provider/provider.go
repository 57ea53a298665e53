// Package provider describes the geocoding backends the client can talk to
// and loads them from a YAML file.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"pelias_geocoder/platform/validator"

	"gopkg.in/yaml.v3"
)

// Unit is the time window a provider's request limit applies to.
type Unit string

const (
	UnitMinute Unit = "minute"
	UnitSecond Unit = "second"
)

// Window returns the sliding window length for the unit.
func (u Unit) Window() time.Duration {
	if u == UnitMinute {
		return time.Minute
	}
	return time.Second
}

// Endpoint operation names used as keys in Provider.Endpoints.
const (
	OpSearch     = "search"
	OpStructured = "structured"
	OpReverse    = "reverse"
)

// Provider is one configured Pelias backend.
type Provider struct {
	Name      string            `yaml:"name" json:"name" validate:"required"`
	BaseURL   string            `yaml:"base_url" json:"baseUrl" validate:"required,url"`
	Key       string            `yaml:"key" json:"-"`
	Limit     int               `yaml:"limit" json:"limit" validate:"gt=0"`
	Unit      Unit              `yaml:"unit" json:"unit" validate:"oneof=minute second"`
	Endpoints map[string]string `yaml:"endpoints" json:"endpoints" validate:"required"`
}

// Endpoint returns the path for an operation.
func (p Provider) Endpoint(op string) (string, error) {
	path, ok := p.Endpoints[op]
	if !ok || strings.TrimSpace(path) == "" {
		return "", &ConfigError{Provider: p.Name, Reason: fmt.Sprintf("no %q endpoint", op)}
	}
	return path, nil
}

// Validate checks the provider descriptor for missing or malformed fields.
func (p Provider) Validate(val *validator.Validator) error {
	if err := val.Struct(p); err != nil {
		return &ConfigError{Provider: p.Name, Reason: validator.Message(err), Err: err}
	}
	return nil
}

// ConfigError reports a provider entry that cannot be used as configured.
// Retrying does not help until the provider file is fixed.
type ConfigError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Source yields the current provider list. Implementations are asked again
// on every run so edits to the configuration are picked up.
type Source interface {
	Providers(ctx context.Context) ([]Provider, error)
}

// Find looks up a provider by name.
func Find(ctx context.Context, src Source, name string) (Provider, error) {
	providers, err := src.Providers(ctx)
	if err != nil {
		return Provider{}, err
	}
	for _, p := range providers {
		if p.Name == name {
			return p, nil
		}
	}
	return Provider{}, &NotFoundError{Name: name}
}

// NotFoundError is returned by Find for an unknown provider name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found", e.Name)
}

type fileDocument struct {
	Providers []Provider `yaml:"providers"`
}

// FileSource reads providers from a YAML file on every call.
type FileSource struct {
	path string
	val  *validator.Validator
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string, val *validator.Validator) *FileSource {
	return &FileSource{path: path, val: val}
}

// Providers reads and validates the provider file.
func (s *FileSource) Providers(_ context.Context) ([]Provider, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return Parse(data, s.val)
}

// Parse decodes and validates a YAML provider document.
func Parse(data []byte, val *validator.Validator) ([]Provider, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Providers))
	for i := range doc.Providers {
		p := &doc.Providers[i]
		p.BaseURL = strings.TrimRight(p.BaseURL, "/")
		if err := p.Validate(val); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	return doc.Providers, nil
}

// StaticSource serves a fixed provider list.
type StaticSource []Provider

// Providers returns the static list.
func (s StaticSource) Providers(_ context.Context) ([]Provider, error) {
	return s, nil
}
