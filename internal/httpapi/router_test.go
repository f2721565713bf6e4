package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		match   bool
		params  map[string]string
	}{
		{
			name:    "exact match",
			pattern: "/v1/status",
			path:    "/v1/status",
			match:   true,
			params:  map[string]string{},
		},
		{
			name:    "single param",
			pattern: "/v1/kv/{key}",
			path:    "/v1/kv/name",
			match:   true,
			params:  map[string]string{"key": "name"},
		},
		{
			name:    "param with dots",
			pattern: "/v1/members/{id}",
			path:    "/v1/members/42",
			match:   true,
			params:  map[string]string{"id": "42"},
		},
		{
			name:    "length mismatch",
			pattern: "/v1/kv/{key}",
			path:    "/v1/kv",
			match:   false,
		},
		{
			name:    "extra segment",
			pattern: "/v1/kv/{key}",
			path:    "/v1/kv/a/b",
			match:   false,
		},
		{
			name:    "literal mismatch",
			pattern: "/v1/status",
			path:    "/v1/health",
			match:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, ok := matchPattern(tt.pattern, tt.path)
			if ok != tt.match {
				t.Fatalf("match mismatch: got %v, want %v", ok, tt.match)
			}
			if !tt.match {
				return
			}
			if len(params) != len(tt.params) {
				t.Fatalf("params count mismatch: got %d, want %d", len(params), len(tt.params))
			}
			for k, v := range tt.params {
				if params[k] != v {
					t.Errorf("param %q mismatch: got %q, want %q", k, params[k], v)
				}
			}
		})
	}
}

func TestRouterDispatch(t *testing.T) {
	router := NewRouter()

	var gotKey string
	router.GET("/v1/kv/{key}", func(w http.ResponseWriter, r *http.Request) {
		gotKey = Param(r, "key")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/kv/alpha", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if gotKey != "alpha" {
		t.Errorf("param mismatch: got %q, want %q", gotKey, "alpha")
	}
}

func TestRouterMethodNotMatched(t *testing.T) {
	router := NewRouter()
	router.GET("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != "not_found" {
		t.Errorf("error code mismatch: got %q, want %q", resp.Error, "not_found")
	}
}

func TestRouterMiddlewareOrder(t *testing.T) {
	router := NewRouter()

	var order []string
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "first")
			next.ServeHTTP(w, r)
		})
	})
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "second")
			next.ServeHTTP(w, r)
		})
	})
	router.GET("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	want := []string{"first", "second", "handler"}
	if len(order) != len(want) {
		t.Fatalf("call count mismatch: got %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("call %d mismatch: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestParamMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	if got := Param(req, "key"); got != "" {
		t.Errorf("param on bare request mismatch: got %q, want empty", got)
	}
}
