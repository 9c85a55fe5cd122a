package connect

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/schema"
)

// HTTPConfig holds shared settings for the HTTP connector.
type HTTPConfig struct {
	// MaxResponseBody limits how many bytes of the response body are read.
	MaxResponseBody int64
	// DefaultTimeout applies when the step config does not set one.
	DefaultTimeout time.Duration
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		MaxResponseBody: 10 * 1024 * 1024, // 10MB
		DefaultTimeout:  30 * time.Second,
	}
}

// HTTPConnector performs HTTP requests for action steps.
//
// Config keys: url (required), method, headers, auth, timeout,
// follow_redirects, max_redirects, tls_skip_verify,
// fail_on_error_status. The payload, when non-empty, is sent as the
// JSON request body.
type HTTPConnector struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPConnector creates an HTTP connector with the given config.
func NewHTTPConnector(cfg HTTPConfig) *HTTPConnector {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = DefaultHTTPConfig().MaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultHTTPConfig().DefaultTimeout
	}
	return &HTTPConnector{config: cfg}
}

func (c *HTTPConnector) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http: url is required")
	}
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http: invalid url %q", rawURL).WithCause(err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http: unsupported scheme %q", parsed.Scheme)
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))
	followRedirects := boolParam(config, "follow_redirects", true)
	maxRedirects := intParam(config, "max_redirects", 10)
	tlsSkipVerify := boolParam(config, "tls_skip_verify", false)
	failOnErrorStatus := boolParam(config, "fail_on_error_status", false)

	timeout := c.config.DefaultTimeout
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStepExecution, "http: failed to marshal payload as JSON").WithCause(err)
		}
		bodyReader = strings.NewReader(string(b))
		contentType = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepExecution, "http: failed to create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if hdrs, ok := config["headers"]; ok {
		if hm, ok := hdrs.(map[string]any); ok {
			for k, v := range hm {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
	}

	if authRaw, ok := config["auth"]; ok {
		if auth, ok := authRaw.(map[string]any); ok {
			switch stringParam(auth, "type", "") {
			case "bearer":
				req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
			case "basic":
				req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
			case "api_key":
				name := stringParam(auth, "header_name", "")
				if name != "" {
					req.Header.Set(name, stringParam(auth, "header_value", ""))
				}
			}
		}
	}

	client := c.client
	if client == nil {
		// Always build a fresh client to avoid mutating shared state.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if tlsSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client = &http.Client{Transport: transport}
		if !followRedirects {
			client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			}
		} else if maxRedirects > 0 {
			limit := maxRedirects
			client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
				if len(via) >= limit {
					return fmt.Errorf("stopped after %d redirects", limit)
				}
				return nil
			}
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepExecution, "http: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepExecution, "http: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(respContentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeStepExecution, "http: server returned %d", resp.StatusCode).
			WithDetails(result)
	}
	return result, nil
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}
