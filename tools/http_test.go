package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandlerPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": body["symbol"]})
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, time.Second).WithHeader("X-Api-Key", "secret")

	out, err := h.Call(context.Background(), map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "AAPL"}, out)
}

func TestHTTPHandlerGetEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("plain " + r.URL.Query().Get("query")))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, time.Second).WithMethod("get")

	out, err := h.Call(context.Background(), map[string]any{"query": "rates"})
	require.NoError(t, err)
	assert.Equal(t, "plain rates", out)
}

func TestHTTPHandlerNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPHandler(srv.URL, time.Second).Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHTTPHandlerDomainAllowlist(t *testing.T) {
	h := NewHTTPHandler("https://evil.example.org/api", time.Second).
		WithAllowedDomains([]string{"example.com"})

	_, err := h.Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")

	assert.True(t, h.isDomainAllowed("https://api.example.com/v1"))
	assert.False(t, h.isDomainAllowed("https://notexample.com"))
}

func TestHTTPHandlerThroughRouter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"Fed holds rates"}]}`))
	}))
	defer srv.Close()

	registry := NewRegistry()
	require.NoError(t, registry.Register(TypeWebSearch,
		NewHTTPHandler(srv.URL, time.Second).WithDescription("Search the web")))
	router := NewRouter(Config{Timeout: time.Second}, registry)

	res := router.Execute(context.Background(), TypeWebSearch, map[string]any{"query": "fed"})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Contains(t, res.ContextString(0), "Fed holds rates")
	assert.Equal(t, "- web_search: Search the web", registry.Describe())
}
