package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Key identifies a memoized API response.
type Key struct {
	// Method is the HTTP method (defaults to GET).
	Method string

	// URL is the request URL without query string, e.g. "/api/products".
	URL string

	// Params are the query parameters.
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: METHOD:url?query, where query is the URL-encoded params sorted by
// name. Values keep their order and are escaped, so distinct params never
// produce the same key.
//
// Example:
//
//	GET:/api/products?category=shoes&page=2
func (k Key) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	key := method + ":" + k.URL
	if len(k.Params) > 0 {
		key += "?" + k.Params.Encode()
	}
	return key
}
