// Package servicenow provides the HTTP client for the ServiceNow REST API.
//
// # Client Architecture
//
// The Client wraps Go's standard net/http.Client and provides:
//
//   - Authentication: Static basic-auth header on every request, no session state.
//   - Credential check: A missing SN_INSTANCE, SN_USER or SN_PASS fails the call
//     with a [ConfigError] before any network I/O.
//   - Soft not-found: HTTP 404 is returned as (nil, nil) so callers can treat
//     "no data" as a normal outcome.
//   - Optional rate limiter: Proactive client-side pacing via golang.org/x/time/rate.
//
// # Status Handling
//
//	┌─────────────────────┬─────────────────────────────────────────────────┐
//	│ Status / Error      │ Action                                          │
//	├─────────────────────┼─────────────────────────────────────────────────┤
//	│ 2xx                 │ Return the raw JSON body                        │
//	│ 404 Not Found       │ Return nil body, nil error                      │
//	│ other 4xx / 5xx     │ Return *APIError with status and body           │
//	│ network error       │ Return wrapped error                            │
//	└─────────────────────┴─────────────────────────────────────────────────┘
//
// There are no retries. A single failure is terminal for the call.
//
// # URL Construction
//
// APIs are called at: {BaseURL}{APIPath}/{endpoint}, e.g.
//
//	GET  https://acme.service-now.com/api/now/table/incident?sysparm_query=...
//	POST https://acme.service-now.com/api/sn_sc/servicecatalog/items/{sys_id}/order_now
//
// List calls use sysparm_query, sysparm_fields and an optional sysparm_limit.
//
// # Diagnostics
//
// Every call, its parameters and payload, and any error response are logged
// to the injected slog.Logger. Nothing is written to the tool response.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/observability"
)

const (
	tableEndpoint = "now/table/"
	orderEndpoint = "sn_sc/servicecatalog/items/"
)

// Client provides methods to interact with the ServiceNow REST API.
// All methods are safe for concurrent use.
type Client interface {
	// Request issues a single call against {BaseURL}{APIPath}/{endpoint}.
	// body, when non-nil, is sent as JSON. A 404 yields (nil, nil).
	Request(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error)

	// GetRecords queries a ServiceNow table. A 404 yields (nil, nil).
	GetRecords(ctx context.Context, table string, query TableQuery) ([]Record, error)

	// OrderNow orders one unit of the catalog item identified by itemSysID.
	OrderNow(ctx context.Context, itemSysID string, variables map[string]any) (OrderResult, error)

	// Close releases any resources held by the client.
	Close()
}

// TableQuery describes a Table API list call.
type TableQuery struct {
	Query  *QueryBuilder
	Fields []string
	Limit  int
}

// httpClient is the concrete implementation of the Client interface.
type httpClient struct {
	baseURL string
	apiPath string
	missing []string
	auth    Authenticator
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ClientOption is a functional option for configuring the HTTP client.
type ClientOption func(*httpClient)

// WithRateLimiter sets a client-side rate limiter.
func WithRateLimiter(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

// WithAuthenticator replaces the basic authenticator built from the config.
func WithAuthenticator(auth Authenticator) ClientOption {
	return func(c *httpClient) {
		c.auth = auth
	}
}

// NewClient creates a new ServiceNow HTTP client.
//
// Missing credentials do not fail construction; every call reports them
// instead, so the process can start and answer the host before the
// environment is complete.
func NewClient(cfg config.ServiceNowConfig, logger *slog.Logger, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiPath: "/" + strings.Trim(cfg.APIPath, "/"),
		missing: cfg.MissingCredentials(),
		auth:    NewBasicAuthenticator(cfg.Auth.Basic.Username, cfg.Auth.Basic.Password),
		logger:  logger.With("component", "sn-client"),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Close releases idle connections.
func (c *httpClient) Close() {
	c.http.CloseIdleConnections()
}

// Request performs one authenticated call. See the package documentation for
// the status handling table.
func (c *httpClient) Request(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	if len(c.missing) > 0 {
		c.logger.Error("❌ critical: missing environment variables", "missing", c.missing)
		return nil, &ConfigError{Missing: c.missing}
	}

	reqURL, err := c.buildURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	attrs := []any{"method", method, "url", reqURL}
	if len(params) > 0 {
		attrs = append(attrs, "params", params.Encode())
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
		attrs = append(attrs, "payload", string(payload))
	}
	c.logger.Info("📡 api call", attrs...)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "rate_limited").Inc()
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "auth").Inc()
		return nil, fmt.Errorf("getting auth token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	label := endpointLabel(endpoint)
	requestStart := time.Now()
	resp, err := c.http.Do(req)
	observability.Metrics.SNAPIRequestsTotal.WithLabelValues(method, label).Inc()
	observability.Metrics.SNAPILatency.WithLabelValues(method, label).Observe(time.Since(requestStart).Seconds())
	if err != nil {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, "network").Inc()
		c.logger.Error("❌ request failed", "method", method, "url", reqURL, "error", err)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		errAttrs := []any{"status", resp.StatusCode, "body", truncateBody(respBody)}
		var snErr ErrorResponse
		if json.Unmarshal(respBody, &snErr) == nil && snErr.Error.Message != "" {
			errAttrs = append(errAttrs, "message", snErr.Error.Message, "detail", snErr.Error.Detail)
		}
		c.logger.Error(fmt.Sprintf("❌ error %d", resp.StatusCode), errAttrs...)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 400:
		return nil, &APIError{
			Method:     method,
			URL:        reqURL,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
		}
	default:
		return respBody, nil
	}
}

// GetRecords queries a ServiceNow table using the Table API.
//
//	GET {baseURL}/api/now/table/{table}?sysparm_query=...&sysparm_fields=...&sysparm_limit=...
//
// The response JSON has the structure: {"result": [{...}, {...}, ...]}
func (c *httpClient) GetRecords(ctx context.Context, table string, query TableQuery) ([]Record, error) {
	params := url.Values{}
	if query.Query != nil {
		if q := query.Query.Build(); q != "" {
			params.Set("sysparm_query", q)
		}
	}
	if len(query.Fields) > 0 {
		params.Set("sysparm_fields", strings.Join(query.Fields, ","))
	}
	if query.Limit > 0 {
		params.Set("sysparm_limit", strconv.Itoa(query.Limit))
	}

	body, err := c.Request(ctx, http.MethodGet, tableEndpoint+strings.TrimLeft(table, "/"), params, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var resp TableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w (body: %.200s)", err, string(body))
	}
	if resp.Result == nil {
		return nil, &FieldError{Object: table, Field: "result"}
	}
	return *resp.Result, nil
}

// OrderNow submits a service catalog order for a single unit.
//
//	POST {baseURL}/api/sn_sc/servicecatalog/items/{sys_id}/order_now
//	Body: {"sysparm_quantity": "1", "variables": {...}}
//
// The request number is read from result.request_number, falling back to
// result.number.
func (c *httpClient) OrderNow(ctx context.Context, itemSysID string, variables map[string]any) (OrderResult, error) {
	endpoint := orderEndpoint + url.PathEscape(itemSysID) + "/order_now"
	payload := map[string]any{
		"sysparm_quantity": "1",
		"variables":        variables,
	}

	body, err := c.Request(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return OrderResult{}, err
	}
	if body == nil {
		// An order must produce a request; a 404 here is a hard failure.
		return OrderResult{}, &APIError{
			Method:     http.MethodPost,
			URL:        c.baseURL + c.apiPath + "/" + endpoint,
			StatusCode: http.StatusNotFound,
			Body:       "catalog item not orderable",
		}
	}
	if !gjson.ValidBytes(body) {
		return OrderResult{}, fmt.Errorf("parsing order response: invalid JSON (body: %.200s)", string(body))
	}

	result := gjson.GetBytes(body, "result")
	number := result.Get("request_number").String()
	if number == "" {
		number = result.Get("number").String()
	}
	if number == "" {
		return OrderResult{}, &FieldError{Object: "order_now", Field: "request_number"}
	}

	return OrderResult{
		RequestNumber: number,
		RequestID:     result.Get("request_id").String(),
	}, nil
}

// buildURL constructs the full request URL. All values are properly
// URL-encoded using net/url.
func (c *httpClient) buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + c.apiPath + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("building URL: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

// endpointLabel keeps the metrics label cardinality bounded by hiding the
// catalog item sys_id.
func endpointLabel(endpoint string) string {
	endpoint = strings.TrimLeft(endpoint, "/")
	if strings.HasPrefix(endpoint, orderEndpoint) {
		return orderEndpoint + "{sys_id}/order_now"
	}
	return endpoint
}

// truncateBody returns the first 500 bytes of a response body for logging.
func truncateBody(body []byte) string {
	if len(body) > 500 {
		return string(body[:500]) + "..."
	}
	return string(body)
}
