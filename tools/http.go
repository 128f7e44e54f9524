// HTTP-backed tool handler.
//
// Information Hiding:
// - Request encoding and response decoding hidden
// - Domain allowlist enforcement hidden

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes = 4 * 1024 * 1024

// HTTPHandler forwards tool parameters to a JSON service endpoint.
// GET requests encode parameters as query values; POST sends them as a JSON body.
type HTTPHandler struct {
	client         *http.Client
	endpoint       string
	method         string
	headers        map[string]string
	allowedDomains []string
	maxBytes       int64
	description    string
}

// NewHTTPHandler creates a handler that POSTs parameters to endpoint.
func NewHTTPHandler(endpoint string, timeout time.Duration) *HTTPHandler {
	return &HTTPHandler{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		method:   http.MethodPost,
		headers:  map[string]string{},
		maxBytes: DefaultMaxResponseBytes,
	}
}

// WithMethod sets GET or POST.
func (h *HTTPHandler) WithMethod(method string) *HTTPHandler {
	h.method = strings.ToUpper(method)
	return h
}

// WithHeader adds a request header, e.g. an API key.
func (h *HTTPHandler) WithHeader(key, value string) *HTTPHandler {
	h.headers[key] = value
	return h
}

// WithAllowedDomains restricts the endpoint host.
func (h *HTTPHandler) WithAllowedDomains(domains []string) *HTTPHandler {
	h.allowedDomains = domains
	return h
}

// WithDescription sets the prompt description.
func (h *HTTPHandler) WithDescription(description string) *HTTPHandler {
	h.description = description
	return h
}

// Description implements Describer.
func (h *HTTPHandler) Description() string {
	if h.description != "" {
		return h.description
	}
	return "HTTP service at " + h.endpoint
}

// Call implements Handler.
func (h *HTTPHandler) Call(ctx context.Context, params map[string]any) (any, error) {
	if !h.isDomainAllowed(h.endpoint) {
		return nil, fmt.Errorf("access to domain in '%s' is not allowed", h.endpoint)
	}

	req, err := h.buildRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("HTTP error: %s: %s", resp.Status, preview)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		// Non-JSON services still return usable text.
		return string(body), nil
	}
	return payload, nil
}

func (h *HTTPHandler) buildRequest(ctx context.Context, params map[string]any) (*http.Request, error) {
	switch h.method {
	case http.MethodGet:
		u, err := url.Parse(h.endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		h.applyHeaders(req)
		return req, nil

	case http.MethodPost:
		body, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		h.applyHeaders(req)
		return req, nil

	default:
		return nil, fmt.Errorf("only GET and POST methods are supported")
	}
}

func (h *HTTPHandler) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
}

// isDomainAllowed checks the endpoint host against the allowlist.
func (h *HTTPHandler) isDomainAllowed(rawURL string) bool {
	if len(h.allowedDomains) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, domain := range h.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

var _ Handler = (*HTTPHandler)(nil)
