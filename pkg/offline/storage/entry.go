// Package storage provides named cache partitions holding HTTP responses
// for the offline controller, with in-memory, bbolt and Redis backends.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Entry represents a stored HTTP response.
type Entry struct {
	// URL is the URL of the request the response answered.
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the stored response.
	StatusCode int `json:"status_code"`

	// Header holds the response headers.
	Header http.Header `json:"header"`

	// Body is the full response body.
	Body []byte `json:"body"`

	// CachedAt is when the response was stored. Partitions order keys by it.
	CachedAt time.Time `json:"cached_at"`
}

// RequestKey returns the partition key for req: method and URL without
// fragment. Vary is ignored.
func RequestKey(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + normalizeURL(req.URL)
}

// URLKey returns the key a GET request for rawURL would have.
func URLKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	return http.MethodGet + " " + normalizeURL(u), nil
}

func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// FromResponse reads resp into an Entry. The body is read fully and replaced
// with an in-memory copy so the caller can still consume the original
// response.
func FromResponse(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = b
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CachedAt:   time.Now(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = normalizeURL(resp.Request.URL)
	}
	return entry, nil
}

// Response builds a fresh *http.Response from the entry. Each call returns
// an independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// validatePartitionName rejects names no backend can store.
func validatePartitionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPartition)
	}
	if strings.ContainsAny(name, "\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return nil
}
