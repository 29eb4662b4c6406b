package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/shared"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *RESTClient {
	t.Helper()
	opts = append([]ClientOption{WithClientLogger(quietLogger())}, opts...)
	c, err := NewRESTClient("test", baseURL, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestRESTClient(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom Client", func(t *testing.T) {
			custom := &http.Client{}
			c := newTestClient(t, "http://example.com/v1/", WithHTTPClient(custom))

			if c.BaseURL() != "http://example.com/v1" {
				t.Errorf("expected trailing slash trimmed, got %s", c.BaseURL())
			}
			if c.httpClient != custom {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("Defaults", func(t *testing.T) {
			c := newTestClient(t, "http://example.com")
			if c.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
			if c.limiter != nil {
				t.Error("limiter should be off by default")
			}
		})

		t.Run("Invalid BaseURL", func(t *testing.T) {
			if _, err := NewRESTClient("test", "not a url"); !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	})

	t.Run("Missing Token", func(t *testing.T) {
		hit := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit = true }))
		defer server.Close()

		c := newTestClient(t, server.URL)
		_, err := c.Do(context.Background(), Request{Path: "/me"})

		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if hit {
			t.Error("no request should be sent without a token")
		}
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("Decodes JSON With Auth And Query", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET method, got %s", r.Method)
				}
				if r.URL.Path != "/v1/things" {
					t.Errorf("expected path /v1/things, got %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("expected bearer header, got %q", got)
				}
				if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("q") != "x" {
					t.Errorf("expected merged query, got %s", r.URL.RawQuery)
				}
				json.NewEncoder(w).Encode(map[string]string{"status": "success"})
			}))
			defer server.Close()

			c := newTestClient(t, server.URL+"/v1")
			var out struct{ Status string }
			err := c.Get(context.Background(), Request{Path: "/things?limit=5", Query: url.Values{"q": {"x"}}, Token: "tok"}, &out)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Status != "success" {
				t.Errorf("expected status success, got %s", out.Status)
			}
		})

		t.Run("Absolute Link On Same Host", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/next" {
					t.Errorf("expected /v1/next, got %s", r.URL.Path)
				}
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL+"/v1")
			if err := c.Get(context.Background(), Request{Path: server.URL + "/v1/next", Token: "tok"}, nil); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})

		t.Run("Absolute Link On Other Host", func(t *testing.T) {
			c := newTestClient(t, "http://api.example.com")
			err := c.Get(context.Background(), Request{Path: "http://evil.example.com/x", Token: "tok"}, nil)
			if !errors.Is(err, shared.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})

		t.Run("Non-JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("plain text"))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			resp, err := c.Do(context.Background(), Request{Path: "/", Token: "tok"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON {
				t.Error("expected response to not be JSON")
			}
			if string(resp.Body) != "plain text" {
				t.Errorf("unexpected body %q", resp.Body)
			}

			var out map[string]any
			if err := c.Get(context.Background(), Request{Path: "/", Token: "tok"}, &out); !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("decoding plain text should fail with ErrAPIRequest, got %v", err)
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST method, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != contentTypeJSONAPI {
				t.Errorf("expected JSON:API content type, got %s", ct)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			if body["name"] != "x" {
				t.Errorf("unexpected body %v", body)
			}
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithContentType(contentTypeJSONAPI))
		if err := c.Post(context.Background(), Request{Path: "/things", Body: map[string]string{"name": "x"}, Token: "tok"}, nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("Error Status", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			want   error
		}{
			{name: "unauthorized", status: http.StatusUnauthorized, want: shared.ErrTokenExpired},
			{name: "rate limited", status: http.StatusTooManyRequests, want: shared.ErrRateLimited},
			{name: "server error", status: http.StatusBadGateway, want: shared.ErrServiceUnavailable},
			{name: "not found", status: http.StatusNotFound, want: shared.ErrAPIRequest},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "3")
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"errors":[{"detail":"nope"}]}`))
				}))
				defer server.Close()

				c := newTestClient(t, server.URL)
				resp, err := c.Do(context.Background(), Request{Path: "/x", Token: "tok"})

				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %T", err)
				}
				if apiErr.StatusCode != tt.status || apiErr.RetryAfter != 3*time.Second {
					t.Errorf("unexpected api error %+v", apiErr)
				}
				if resp == nil || !resp.IsJSON {
					t.Error("raw response should be returned alongside the error")
				}
			})
		}
	})

	t.Run("Network Error", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:1")
		_, err := c.Do(context.Background(), Request{Path: "/x", Token: "tok"})
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("Rate Limit Honors Context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		c := newTestClient(t, server.URL, WithRateLimit(0.001))
		if _, err := c.Do(context.Background(), Request{Path: "/", Token: "tok"}); err != nil {
			t.Fatalf("first request should use the burst: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := c.Do(ctx, Request{Path: "/", Token: "tok"}); err == nil {
			t.Error("second request should fail waiting on the limiter")
		}
	})

	t.Run("RelativePath", func(t *testing.T) {
		c := newTestClient(t, "https://api.spotify.com/v1")
		if got := c.RelativePath("https://api.spotify.com/v1/me/playlists?offset=50"); got != "/me/playlists?offset=50" {
			t.Errorf("unexpected relative path %s", got)
		}
		if got := c.RelativePath("https://other.example.com/x"); got != "https://other.example.com/x" {
			t.Errorf("foreign links should be unchanged, got %s", got)
		}
	})

	t.Run("IsAuthError", func(t *testing.T) {
		if !IsAuthError(&APIError{StatusCode: 401}) || !IsAuthError(shared.ErrNotAuthenticated) {
			t.Error("expected auth errors to be detected")
		}
		if IsAuthError(&APIError{StatusCode: 500}) {
			t.Error("500 is not an auth error")
		}
	})
}

func TestParseISODuration(t *testing.T) {
	tc := map[string]int{
		"PT3M25S":  205,
		"PT1H2M3S": 3723,
		"PT45.6S":  45,
		"P1DT1S":   86401,
		"pt2m":     120,
		"":         0,
		"3M":       0,
		"PT3X":     0,
		"PT12":     0,
	}
	for in, want := range tc {
		if got := parseISODuration(in); got != want {
			t.Errorf("parseISODuration(%q) = %d, want %d", in, got, want)
		}
	}
}
