// REST client shared by the Spotify and Tidal services
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/shared"
	"golang.org/x/time/rate"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeJSONAPI = "application/vnd.api+json"
)

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// APIError is returned for any non-2xx response.
//
// It unwraps to [shared.ErrTokenExpired] for 401, [shared.ErrRateLimited] for 429,
// [shared.ErrServiceUnavailable] for 5xx and [shared.ErrAPIRequest] otherwise.
type APIError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s API error: %s %s: status %d: %s", e.Service, e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return shared.ErrTokenExpired
	case e.StatusCode == http.StatusTooManyRequests:
		return shared.ErrRateLimited
	case e.StatusCode >= 500:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrAPIRequest
	}
}

// Request describes one call against a vendor API.
//
// Path is relative to the client's base URL, or an absolute URL on the same host (for
// "next" links). Body, when set, is encoded as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Token  string
}

// ClientOption configures a [RESTClient].
type ClientOption func(*RESTClient)

// WithHTTPClient replaces [http.DefaultClient].
func WithHTTPClient(c *http.Client) ClientOption {
	return func(r *RESTClient) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limiter.
func WithRateLimit(rps float64) ClientOption {
	return func(r *RESTClient) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithContentType sets the Content-Type and Accept headers.
func WithContentType(ct string) ClientOption {
	return func(r *RESTClient) { r.contentType = ct }
}

// WithClientLogger sets the logger used for request tracing.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(r *RESTClient) {
		if l != nil {
			r.logger = l
		}
	}
}

// RESTClient performs authenticated JSON requests against a single vendor API.
type RESTClient struct {
	service     string
	baseURL     *url.URL
	httpClient  *http.Client
	limiter     *rate.Limiter
	contentType string
	logger      *log.Logger
}

// NewRESTClient creates a client for service rooted at baseURL.
func NewRESTClient(service, baseURL string, opts ...ClientOption) (*RESTClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q", shared.ErrInvalidConfig, baseURL)
	}

	c := &RESTClient{
		service:     service,
		baseURL:     u,
		httpClient:  http.DefaultClient,
		contentType: contentTypeJSON,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *RESTClient) BaseURL() string {
	return c.baseURL.String()
}

// RelativePath strips the base URL from an absolute link, leaving the path and query.
//
// Links on other hosts are returned unchanged; [RESTClient.Do] refuses them.
func (c *RESTClient) RelativePath(link string) string {
	base := c.baseURL.String()
	if rest, ok := strings.CutPrefix(link, base); ok {
		return rest
	}
	return link
}

// resolve builds the request URL, merging req.Query into any query already in the path.
func (c *RESTClient) resolve(req Request) (*url.URL, error) {
	var u *url.URL
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		abs, err := url.Parse(req.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		if abs.Host != c.baseURL.Host {
			return nil, fmt.Errorf("%w: refusing to send credentials to %s", shared.ErrInvalidInput, abs.Host)
		}
		u = abs
	} else {
		rel, err := url.Parse(req.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		u = c.baseURL.JoinPath(rel.EscapedPath())
		u.RawQuery = rel.RawQuery
	}

	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Do sends req and returns the raw response.
//
// A missing token fails with [shared.ErrNotAuthenticated] before anything is sent.
// Non-2xx responses return both the response and an [*APIError].
func (c *RESTClient) Do(ctx context.Context, req Request) (*APIResponse, error) {
	if req.Token == "" {
		return nil, fmt.Errorf("%w: no %s access token", shared.ErrNotAuthenticated, c.service)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	u, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	httpReq.Header.Set("Accept", c.contentType)
	if body != nil {
		httpReq.Header.Set("Content-Type", c.contentType)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		RequestsTotal.WithLabelValues(c.service, "error").Inc()
		return nil, fmt.Errorf("%w: %s %s: %w", shared.ErrAPIRequest, req.Method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	RequestsTotal.WithLabelValues(c.service, strconv.Itoa(resp.StatusCode)).Inc()
	RequestDuration.WithLabelValues(c.service).Observe(time.Since(start).Seconds())
	c.logger.Debug("api request", "service", c.service, "method", req.Method, "path", u.Path, "status", resp.StatusCode, "took", time.Since(start))

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}
	var jsonData any
	if err := json.Unmarshal(data, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Service:    c.service,
			Method:     req.Method,
			Path:       u.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiResp, apiErr
	}

	return apiResp, nil
}

// JSON sends req and decodes a successful response body into out (when non-nil).
func (c *RESTClient) JSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", shared.ErrAPIRequest, c.service, err)
	}
	return nil
}

// Get is [RESTClient.JSON] with method GET.
func (c *RESTClient) Get(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodGet
	return c.JSON(ctx, req, out)
}

// Post is [RESTClient.JSON] with method POST.
func (c *RESTClient) Post(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodPost
	return c.JSON(ctx, req, out)
}

// IsAuthError reports whether err means the caller must (re)authenticate.
func IsAuthError(err error) bool {
	return errors.Is(err, shared.ErrNotAuthenticated) || errors.Is(err, shared.ErrTokenExpired)
}
