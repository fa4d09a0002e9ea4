package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/rehearse/internal/shared"
	"golang.org/x/oauth2"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// failingBody errors on Read.
type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("read failed") }
func (failingBody) Close() error             { return nil }

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService(APIOptions{BaseURL: "http://example.com/", HTTPClient: customClient})

			if srv.BaseURL() != "http://example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", srv.BaseURL())
			}
			if srv.HTTPClient() != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL", func(t *testing.T) {
			srv := NewAPIService(APIOptions{})

			if srv.BaseURL() != defaultBaseURL {
				t.Errorf("expected default baseURL %q, got %s", defaultBaseURL, srv.BaseURL())
			}
			if srv.HTTPClient().Timeout != 30*time.Second {
				t.Errorf("expected default timeout, got %v", srv.HTTPClient().Timeout)
			}
		})

		t.Run("With Timeout", func(t *testing.T) {
			srv := NewAPIService(APIOptions{Timeout: 5 * time.Second})
			if srv.HTTPClient().Timeout != 5*time.Second {
				t.Errorf("expected 5s timeout, got %v", srv.HTTPClient().Timeout)
			}
		})
	})

	t.Run("Headers", func(t *testing.T) {
		t.Run("Anonymous Requests Use Anon Key As Bearer", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("apikey") != "anon" {
					t.Errorf("expected apikey 'anon', got %q", r.Header.Get("apikey"))
				}
				if r.Header.Get("Authorization") != "Bearer anon" {
					t.Errorf("expected anon bearer, got %q", r.Header.Get("Authorization"))
				}
				if r.Header.Get("User-Agent") != "rehearse-test" {
					t.Errorf("expected user agent, got %q", r.Header.Get("User-Agent"))
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL, AnonKey: "anon", UserAgent: "rehearse-test"})
			if _, err := srv.Get(context.Background(), "/test"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})

		t.Run("Bound Token Source Is Used", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer user-token" {
					t.Errorf("expected user bearer, got %q", r.Header.Get("Authorization"))
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL, AnonKey: "anon"})
			srv.SetTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-token"}))

			if _, err := srv.Get(context.Background(), "/test"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})

		t.Run("Anonymous Flag Overrides Bound Token", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer anon" {
					t.Errorf("expected anon bearer, got %q", r.Header.Get("Authorization"))
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL, AnonKey: "anon"})
			srv.SetTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "user-token"}))

			_, err := srv.Do(context.Background(), APIRequest{Method: http.MethodGet, Path: "/x", Anonymous: true})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("Successful Request With JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET method, got %s", r.Method)
				}
				if r.URL.Path != "/test" {
					t.Errorf("expected path '/test', got %s", r.URL.Path)
				}

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]string{"status": "success"})
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL})
			resp, err := srv.Get(context.Background(), "/test")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !resp.OK() {
				t.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			if !resp.IsJSON {
				t.Error("expected response to be JSON")
			}

			var out map[string]string
			if err := resp.Decode(&out); err != nil {
				t.Fatalf("expected decode to succeed, got %v", err)
			}
			if out["status"] != "success" {
				t.Errorf("expected status 'success', got %v", out)
			}
		})

		t.Run("Successful Request With Non-JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("plain text response"))
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL})
			resp, err := srv.Get(context.Background(), "/test")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON {
				t.Error("expected response to not be JSON")
			}
			if string(resp.Body) != "plain text response" {
				t.Errorf("expected body 'plain text response', got %s", string(resp.Body))
			}
		})

		t.Run("Failed Request Creation", func(t *testing.T) {
			srv := NewAPIService(APIOptions{BaseURL: "http://example.com"})
			_, err := srv.Get(context.Background(), "/test\x00invalid")

			if err == nil {
				t.Fatal("expected error for invalid URL")
			}
			if !strings.Contains(err.Error(), "failed to create request") {
				t.Errorf("expected 'failed to create request' error, got %v", err)
			}
		})

		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection failed")
			})}

			srv := NewAPIService(APIOptions{BaseURL: "http://example.com", HTTPClient: client})
			_, err := srv.Get(context.Background(), "/test")

			if !errors.Is(err, shared.ErrServiceUnavailable) {
				t.Errorf("expected ErrServiceUnavailable, got %v", err)
			}
		})

		t.Run("Failed Response Body Read", func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return &http.Response{StatusCode: http.StatusOK, Body: failingBody{}, Header: http.Header{}}, nil
			})}

			srv := NewAPIService(APIOptions{BaseURL: "http://example.com", HTTPClient: client})
			_, err := srv.Get(context.Background(), "/test")

			if err == nil || !strings.Contains(err.Error(), "failed to read response") {
				t.Errorf("expected 'failed to read response' error, got %v", err)
			}
		})

		t.Run("With Canceled Context", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			srv := NewAPIService(APIOptions{BaseURL: server.URL})
			if _, err := srv.Get(ctx, "/test"); err == nil {
				t.Error("expected error for canceled context")
			}
		})

		t.Run("Response Headers Are Preserved", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Custom-Header", "test-value")
				w.Write([]byte("test"))
			}))
			defer server.Close()

			srv := NewAPIService(APIOptions{BaseURL: server.URL})
			resp, err := srv.Get(context.Background(), "/test")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.Headers.Get("X-Custom-Header") != "test-value" {
				t.Errorf("expected custom header 'test-value', got %s", resp.Headers.Get("X-Custom-Header"))
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST method, got %s", r.Method)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got %s", r.Header.Get("Content-Type"))
			}

			body, _ := io.ReadAll(r.Body)
			var data map[string]string
			if err := json.Unmarshal(body, &data); err != nil {
				t.Errorf("failed to unmarshal request body: %v", err)
			}
			if data["test"] != "data" {
				t.Errorf("expected request data 'test:data', got %v", data)
			}

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "123"})
		}))
		defer server.Close()

		srv := NewAPIService(APIOptions{BaseURL: server.URL})
		requestData, _ := json.Marshal(map[string]string{"test": "data"})
		resp, err := srv.Post(context.Background(), "/test", requestData)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("expected status 201, got %d", resp.StatusCode)
		}
	})
}

func TestAPIResponseErr(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		detail string
	}{
		{name: "OK", status: http.StatusOK, body: `[]`},
		{name: "Unauthorized", status: http.StatusUnauthorized, body: `{"message":"JWT expired"}`, want: shared.ErrNotAuthenticated, detail: "JWT expired"},
		{name: "Forbidden", status: http.StatusForbidden, body: `{"msg":"nope"}`, want: shared.ErrNotAuthenticated, detail: "nope"},
		{name: "Not Found", status: http.StatusNotFound, body: `not here`, want: shared.ErrNotFound, detail: "not here"},
		{name: "Not Acceptable", status: http.StatusNotAcceptable, body: `{}`, want: shared.ErrNotFound},
		{name: "Conflict", status: http.StatusConflict, body: `{"message":"duplicate key"}`, want: shared.ErrConflict, detail: "duplicate key"},
		{name: "Server Error", status: http.StatusBadGateway, body: `bad gateway`, want: shared.ErrServiceUnavailable},
		{name: "Bad Request", status: http.StatusBadRequest, body: `{"error_description":"invalid grant"}`, want: shared.ErrAPIRequest, detail: "invalid grant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &APIResponse{StatusCode: tt.status, Body: []byte(tt.body), IsJSON: json.Valid([]byte(tt.body))}
			err := resp.Err()

			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.detail != "" && !strings.Contains(err.Error(), tt.detail) {
				t.Errorf("expected error to contain %q, got %v", tt.detail, err)
			}
		})
	}
}

func TestDoJSON(t *testing.T) {
	t.Run("Decodes 2xx Body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"abc"}`))
		}))
		defer server.Close()

		srv := NewAPIService(APIOptions{BaseURL: server.URL})
		var out struct {
			ID string `json:"id"`
		}
		err := srv.doJSON(context.Background(), APIRequest{Method: http.MethodPost, Path: "/x"}, map[string]int{"a": 1}, &out)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.ID != "abc" {
			t.Errorf("expected id 'abc', got %q", out.ID)
		}
	})

	t.Run("Returns Status Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		srv := NewAPIService(APIOptions{BaseURL: server.URL})
		err := srv.doJSON(context.Background(), APIRequest{Method: http.MethodPost, Path: "/x"}, nil, nil)
		if !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}
