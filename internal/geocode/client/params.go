package client

import (
	"net/url"
	"sort"
	"strings"
)

// Param is one query string pair.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters. Order is kept as given.
type Params []Param

// ParamsFromMap sorts the map by key so that identical requests produce
// identical URLs.
func ParamsFromMap(m map[string]string) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(Params, 0, len(keys))
	for _, k := range keys {
		params = append(params, Param{Key: k, Value: m[k]})
	}
	return params
}

// Encode renders the params as a query string. Unreserved characters are
// left as-is and reserved ones are percent-encoded.
func (p Params) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(param.Value))
	}
	return b.String()
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// KeyParam is the query parameter carrying the provider key.
const KeyParam = "api_key"

const redacted = "REDACTED"

// RedactKey replaces the provider key in a request URL so it can be shown
// or stored.
func RedactKey(rawURL string) string {
	for _, sep := range []string{"&", "?"} {
		marker := sep + KeyParam + "="
		i := strings.LastIndex(rawURL, marker)
		if i < 0 {
			continue
		}
		start := i + len(marker)
		end := strings.IndexByte(rawURL[start:], '&')
		if end < 0 {
			return rawURL[:start] + redacted
		}
		return rawURL[:start] + redacted + rawURL[start+end:]
	}
	return rawURL
}
