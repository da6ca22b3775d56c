package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testCfg(baseURL string) config.ServiceNowConfig {
	return config.ServiceNowConfig{
		BaseURL:        baseURL,
		APIPath:        "/api",
		TimeoutSeconds: 15,
		Auth: config.AuthConfig{
			Basic: config.BasicConfig{Username: "admin", Password: "secret"},
		},
	}
}

func TestGetRecords_Success(t *testing.T) {
	records := []Record{
		{"number": "INC0010001", "short_description": "VPN down", "state": "2"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/now/table/incident" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sysparm_query") != "number=INC0010001" {
			t.Errorf("sysparm_query = %q", q.Get("sysparm_query"))
		}
		if q.Get("sysparm_fields") != "state,short_description,number" {
			t.Errorf("sysparm_fields = %q", q.Get("sysparm_fields"))
		}
		if q.Has("sysparm_limit") {
			t.Errorf("sysparm_limit should be absent, got %q", q.Get("sysparm_limit"))
		}
		if got := r.Header.Get("Authorization"); got != "Basic YWRtaW46c2VjcmV0" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("Accept") != "application/json" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected headers: %v", r.Header)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"result": records})
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	result, err := client.GetRecords(context.Background(), "incident", TableQuery{
		Query:  NewQueryBuilder().WhereEquals("number", "INC0010001"),
		Fields: TicketFields,
	})
	if err != nil {
		t.Fatalf("GetRecords failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result))
	}
	ticket, err := result[0].ToTicket()
	if err != nil {
		t.Fatalf("ToTicket: %v", err)
	}
	if ticket.Number != "INC0010001" || ticket.State != "2" {
		t.Errorf("ticket = %+v", ticket)
	}
}

func TestGetRecords_WithLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sysparm_limit"); got != "3" {
			t.Errorf("sysparm_limit = %q, want 3", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	result, err := client.GetRecords(context.Background(), "kb_knowledge", TableQuery{Limit: 3})
	if err != nil {
		t.Fatalf("GetRecords failed: %v", err)
	}
	if result == nil || len(result) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", result)
	}
}

func TestGetRecords_NotFoundIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"No Record found","detail":"Record doesn't exist"}}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	result, err := client.GetRecords(context.Background(), "incident", TableQuery{})
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
}

func TestGetRecords_ServerErrorIsHard(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.GetRecords(context.Background(), "incident", TableQuery{})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Body != "boom" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention status: %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("expected exactly one attempt (no retries), got %d", n)
	}
}

func TestGetRecords_ClientErrorIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"User Not Authenticated"}}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.GetRecords(context.Background(), "incident", TableQuery{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 *APIError, got %v", err)
	}
	if apiErr.IsNotFound() {
		t.Error("401 must not report IsNotFound")
	}
}

func TestGetRecords_MissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.GetRecords(context.Background(), "incident", TableQuery{})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestGetRecords_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.GetRecords(context.Background(), "incident", TableQuery{})
	if err == nil || !strings.Contains(err.Error(), "parsing response JSON") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestRequest_MissingCredentials(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	cfg := testCfg(srv.URL)
	cfg.Auth.Basic.Password = ""
	client := NewClient(cfg, testLogger())

	_, err := client.Request(context.Background(), http.MethodGet, "now/table/incident", nil, nil)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || len(cfgErr.Missing) != 1 || cfgErr.Missing[0] != config.EnvPassword {
		t.Errorf("ConfigError = %+v", cfgErr)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no network call expected when credentials are missing")
	}
}

func TestRequest_MissingInstance(t *testing.T) {
	client := NewClient(config.ServiceNowConfig{APIPath: "/api"}, testLogger())
	_, err := client.Request(context.Background(), http.MethodGet, "now/table/incident", nil, nil)
	if err == nil || !strings.Contains(err.Error(), config.EnvInstance) {
		t.Fatalf("error should name %s: %v", config.EnvInstance, err)
	}
}

func TestRequest_LogsCallToDiagnosticStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client := NewClient(testCfg(srv.URL), logger)

	params := map[string][]string{"sysparm_query": {"name=Laptop"}}
	_, err := client.Request(context.Background(), http.MethodPost, "sn_sc/test", params, map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.SplitN(buf.String(), "\n", 2)[0]), &entry); err != nil {
		t.Fatalf("decoding log line: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "📡 api call" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["method"] != http.MethodPost {
		t.Errorf("method = %v", entry["method"])
	}
	if entry["params"] != "sysparm_query=name%3DLaptop" {
		t.Errorf("params = %v", entry["params"])
	}
	if entry["payload"] != `{"a":"b"}` {
		t.Errorf("payload = %v", entry["payload"])
	}
	if entry["component"] != "sn-client" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestOrderNow_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/sn_sc/servicecatalog/items/item-1/order_now" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Quantity  string         `json:"sysparm_quantity"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload.Quantity != "1" {
			t.Errorf("sysparm_quantity = %q", payload.Quantity)
		}
		if payload.Variables["ram"] != "16GB" {
			t.Errorf("variables = %v", payload.Variables)
		}
		w.Write([]byte(`{"result":{"request_number":"REQ0010042","request_id":"abc","number":"ignored"}}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	res, err := client.OrderNow(context.Background(), "item-1", map[string]any{"ram": "16GB"})
	if err != nil {
		t.Fatalf("OrderNow failed: %v", err)
	}
	if res.RequestNumber != "REQ0010042" || res.RequestID != "abc" {
		t.Errorf("result = %+v", res)
	}
}

func TestOrderNow_FallsBackToNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"number":"REQ0010043"}}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	res, err := client.OrderNow(context.Background(), "item-1", nil)
	if err != nil {
		t.Fatalf("OrderNow failed: %v", err)
	}
	if res.RequestNumber != "REQ0010043" {
		t.Errorf("RequestNumber = %q", res.RequestNumber)
	}
}

func TestOrderNow_MissingNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.OrderNow(context.Background(), "item-1", nil)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestOrderNow_NotFoundIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger())
	_, err := client.OrderNow(context.Background(), "item-1", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsNotFound() {
		t.Fatalf("expected 404 *APIError, got %v", err)
	}
}

func TestNewClient_Timeout(t *testing.T) {
	c := NewClient(testCfg("https://example.com"), testLogger()).(*httpClient)
	if c.http.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", c.http.Timeout)
	}
	if c.baseURL != "https://example.com" || c.apiPath != "/api" {
		t.Errorf("baseURL=%q apiPath=%q", c.baseURL, c.apiPath)
	}
}

func TestRequest_RateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	client := NewClient(testCfg(srv.URL), testLogger(), WithRateLimiter(100))
	for i := 0; i < 3; i++ {
		if _, err := client.GetRecords(context.Background(), "incident", TableQuery{}); err != nil {
			t.Fatalf("GetRecords failed: %v", err)
		}
	}
}

type failingAuth struct{}

func (failingAuth) Token(context.Context) (string, error) {
	return "", errors.New("vault sealed")
}

func TestRequest_AuthenticatorError(t *testing.T) {
	client := NewClient(testCfg("https://example.com"), testLogger(), WithAuthenticator(failingAuth{}))
	_, err := client.Request(context.Background(), http.MethodGet, "now/table/incident", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "vault sealed") {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "now/table/incident", want: "now/table/incident"},
		{in: "/now/table/sys_user", want: "now/table/sys_user"},
		{in: "sn_sc/servicecatalog/items/0123abcd/order_now", want: "sn_sc/servicecatalog/items/{sys_id}/order_now"},
	}
	for _, tt := range tests {
		if got := endpointLabel(tt.in); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
