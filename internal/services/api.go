// HTTP transport shared by the auth, REST and storage clients

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/rehearse/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "http://127.0.0.1:54321"

// APIOptions configures an [APIService].
type APIOptions struct {
	BaseURL           string
	AnonKey           string
	UserAgent         string
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
}

// APIService performs requests against the backend's HTTP surface.
//
// Every request carries the anon key as "apikey". The bearer token is the signed-in user's access token when a
// token source is bound, otherwise the anon key.
type APIService struct {
	baseURL    string
	anonKey    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.RWMutex
	tokens oauth2.TokenSource
}

// NewAPIService creates an API service for the backend described by opts.
func NewAPIService(opts APIOptions) *APIService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &APIService{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		anonKey:    opts.AnonKey,
		userAgent:  opts.UserAgent,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// BaseURL returns the backend root without a trailing slash.
func (a *APIService) BaseURL() string { return a.baseURL }

// HTTPClient returns the underlying client.
func (a *APIService) HTTPClient() *http.Client { return a.httpClient }

// SetTokenSource binds the user's token source. nil reverts to anonymous access.
func (a *APIService) SetTokenSource(ts oauth2.TokenSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = ts
}

// TokenSource returns the bound token source, if any.
func (a *APIService) TokenSource() oauth2.TokenSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens
}

// APIRequest describes one backend call.
type APIRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.Reader
	// Anonymous sends the anon key as bearer even when a user token is bound.
	Anonymous bool
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
}

// OK reports a 2xx status.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *APIResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// errorBody covers the error shapes returned by the auth, REST and storage endpoints.
type errorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             any    `json:"code"`
	Hint             string `json:"hint"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Err converts a non-2xx response into an error wrapping the matching sentinel.
func (r *APIResponse) Err() error {
	if r.OK() {
		return nil
	}

	detail := strings.TrimSpace(string(r.Body))
	var body errorBody
	if r.IsJSON {
		if err := json.Unmarshal(r.Body, &body); err == nil && body.text() != "" {
			detail = body.text()
		}
	}
	if len(detail) > 200 {
		detail = detail[:200]
	}

	var sentinel error
	switch {
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		sentinel = shared.ErrNotAuthenticated
	case r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusNotAcceptable:
		sentinel = shared.ErrNotFound
	case r.StatusCode == http.StatusConflict:
		sentinel = shared.ErrConflict
	case r.StatusCode >= 500:
		sentinel = shared.ErrServiceUnavailable
	default:
		sentinel = shared.ErrAPIRequest
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, r.StatusCode, detail)
}

func (a *APIService) bearer(anonymous bool) (string, error) {
	ts := a.TokenSource()
	if anonymous || ts == nil {
		return a.anonKey, nil
	}

	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
	}
	return tok.AccessToken, nil
}

// Do performs req and returns the raw response. Non-2xx statuses are not errors at this level; see [APIResponse.Err].
func (a *APIService) Do(ctx context.Context, req APIRequest) (*APIResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := a.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if a.userAgent != "" {
		httpReq.Header.Set("User-Agent", a.userAgent)
	}
	if a.anonKey != "" {
		httpReq.Header.Set("apikey", a.anonKey)
	}

	token, err := a.bearer(req.Anonymous)
	if err != nil {
		return nil, err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}
	apiResp.IsJSON = len(body) > 0 && json.Valid(body)

	return apiResp, nil
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.Do(ctx, APIRequest{Method: http.MethodGet, Path: path})
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.Do(ctx, APIRequest{Method: http.MethodPost, Path: path, Body: bytes.NewReader(data)})
}

// doJSON marshals payload, performs the request and decodes a 2xx body into out (when non-nil).
func (a *APIService) doJSON(ctx context.Context, req APIRequest, payload, out any) error {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		req.Body = bytes.NewReader(data)
	}

	resp, err := a.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}
