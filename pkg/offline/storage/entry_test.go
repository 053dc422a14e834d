package storage

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"testing"
)

func TestRequestKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{name: "plain", method: http.MethodGet, url: "https://shop.example/app.js", want: "GET https://shop.example/app.js"},
		{name: "query kept", method: http.MethodGet, url: "https://shop.example/api?page=2", want: "GET https://shop.example/api?page=2"},
		{name: "fragment dropped", method: http.MethodGet, url: "https://shop.example/#top", want: "GET https://shop.example/"},
		{name: "method kept", method: http.MethodPost, url: "https://shop.example/api", want: "POST https://shop.example/api"},
		{name: "empty method is GET", method: "", url: "https://shop.example/", want: "GET https://shop.example/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := url.Parse(tt.url)
			req := &http.Request{Method: tt.method, URL: u}
			if got := RequestKey(req); got != tt.want {
				t.Errorf("RequestKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURLKey(t *testing.T) {
	got, err := URLKey("https://shop.example/offline#x")
	if err != nil {
		t.Fatalf("URLKey() error = %v", err)
	}
	if got != "GET https://shop.example/offline" {
		t.Errorf("URLKey() = %q", got)
	}

	if _, err := URLKey("://bad"); err == nil {
		t.Error("URLKey() accepted an invalid URL")
	}
}

func TestFromResponse(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://shop.example/logo.svg#frag", nil)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/svg+xml"}},
		Body:       io.NopCloser(bytes.NewReader([]byte("<svg/>"))),
		Request:    req,
	}

	entry, err := FromResponse(resp)
	if err != nil {
		t.Fatalf("FromResponse() error = %v", err)
	}

	if string(entry.Body) != "<svg/>" {
		t.Errorf("Body = %q", entry.Body)
	}
	if entry.URL != "https://shop.example/logo.svg" {
		t.Errorf("URL = %q", entry.URL)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt was not set")
	}

	// Original body is still readable by the caller.
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<svg/>" {
		t.Errorf("restored body = %q", body)
	}

	// Header is a copy.
	resp.Header.Set("Content-Type", "text/plain")
	if entry.Header.Get("Content-Type") != "image/svg+xml" {
		t.Error("entry header shares the response header map")
	}
}

func TestFromResponse_Nil(t *testing.T) {
	if _, err := FromResponse(nil); err == nil {
		t.Error("FromResponse(nil) returned no error")
	}
}

func TestEntry_Response(t *testing.T) {
	entry := &Entry{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<h1>Offline</h1>"),
	}
	req, _ := http.NewRequest(http.MethodGet, "https://shop.example/offline", nil)

	for i := 0; i < 2; i++ {
		resp := entry.Response(req)
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "<h1>Offline</h1>" {
			t.Errorf("call %d: body = %q", i, body)
		}
		if resp.StatusCode != http.StatusOK || resp.Status != "200 OK" {
			t.Errorf("call %d: status = %d %q", i, resp.StatusCode, resp.Status)
		}
		if resp.ContentLength != int64(len(entry.Body)) {
			t.Errorf("call %d: ContentLength = %d", i, resp.ContentLength)
		}
		if resp.Request != req {
			t.Errorf("call %d: Request not set", i)
		}
	}
}
