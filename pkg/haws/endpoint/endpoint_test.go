package endpoint

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

func TestNormalization(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://hass.example:8123/api", "https://hass.example:8123"},
		{"https://hass.example:8123/api/websocket/", "https://hass.example:8123"},
		{"https://hass.example:8123///", "https://hass.example:8123"},
		{"http://hass.local", "http://hass.local"},
		{"hass.local:8123", "http://hass.local:8123"},
		{"https://example.com/prefix/api/websocket", "https://example.com/prefix"},
		{"ftp://example.com/api", "http://example.com"},
	}
	for _, tc := range tests {
		ep, err := New(tc.input)
		if err != nil {
			t.Fatalf("New(%q) error: %v", tc.input, err)
		}
		if got := ep.String(); got != tc.want {
			t.Errorf("New(%q) = %q; want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizationIdempotent(t *testing.T) {
	inputs := []string{
		"https://hass.example:8123/api/websocket",
		"http://a.b/api/",
		"https://x.y/prefix///",
	}
	for _, in := range inputs {
		first, err := New(in)
		if err != nil {
			t.Fatalf("New(%q) error: %v", in, err)
		}
		second, err := New(first.String())
		if err != nil {
			t.Fatalf("New(%q) error: %v", first.String(), err)
		}
		if first.String() != second.String() {
			t.Errorf("normalize(%q) not idempotent: %q vs %q", in, first.String(), second.String())
		}
		if first.WebSocketURL().String() != second.WebSocketURL().String() {
			t.Errorf("WebSocketURL differs after renormalizing %q", in)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://hass.example:8123/api/websocket/", "wss://hass.example:8123/api/websocket"},
		{"http://hass.local", "ws://hass.local/api/websocket"},
		{"wss://hass.example/api", "wss://hass.example/api/websocket"},
		{"ws://10.0.0.2:8123", "ws://10.0.0.2:8123/api/websocket"},
	}
	for _, tc := range tests {
		ep, err := New(tc.input)
		if err != nil {
			t.Fatalf("New(%q) error: %v", tc.input, err)
		}
		if got := ep.WebSocketURL().String(); got != tc.want {
			t.Errorf("WebSocketURL(%q) = %q; want %q", tc.input, got, tc.want)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	if _, err := New("https://:8123"); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("empty host: got %v; want ErrInvalidHostname", err)
	}
	if _, err := New(""); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("empty input: got %v; want ErrInvalidHostname", err)
	}
	if _, err := New("https://hass.example:70000"); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("port 70000: got %v; want ErrInvalidPort", err)
	}
}

func TestHostHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://hass.example:8123", "hass.example:8123"},
		{"https://hass.example:443", "hass.example"},
		{"http://hass.example:80", "hass.example"},
		{"http://hass.example", "hass.example"},
	}
	for _, tc := range tests {
		ep, err := New(tc.input)
		if err != nil {
			t.Fatalf("New(%q) error: %v", tc.input, err)
		}
		req, err := ep.RESTRequest(context.Background(), "GET", "api/states", nil, nil)
		if err != nil {
			t.Fatalf("RESTRequest error: %v", err)
		}
		if req.Host != tc.want {
			t.Errorf("Host for %q = %q; want %q", tc.input, req.Host, tc.want)
		}
	}
}

func TestRESTRequest(t *testing.T) {
	ep, err := New("https://hass.example:8123/api", WithUserAgent("hearth/1.0"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	q := url.Values{}
	q.Set("filter_entity_id", "light.kitchen")
	req, err := ep.RESTRequest(context.Background(), "GET", "api/history/period", q, nil)
	if err != nil {
		t.Fatalf("RESTRequest error: %v", err)
	}

	want := "https://hass.example:8123/api/history/period?filter_entity_id=light.kitchen"
	if req.URL.String() != want {
		t.Errorf("URL = %q; want %q", req.URL.String(), want)
	}
	if ua := req.Header.Get("User-Agent"); ua != "hearth/1.0" {
		t.Errorf("User-Agent = %q; want hearth/1.0", ua)
	}
}

func TestShouldReplace(t *testing.T) {
	a, _ := New("https://hass.example:8123/api")
	b, _ := New("https://hass.example:8123/api/websocket")
	c, _ := New("https://other.example:8123")

	if a.ShouldReplace(b) {
		t.Error("same normalized base should not require replacement")
	}
	if !a.ShouldReplace(c) {
		t.Error("different host should require replacement")
	}
	if !a.ShouldReplace(nil) {
		t.Error("nil existing endpoint should require replacement")
	}
}
