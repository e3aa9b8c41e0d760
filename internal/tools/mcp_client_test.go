package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/trades-chat/internal/resilience"
)

type fakeMCPServer struct {
	t           *testing.T
	sse         bool
	initCalls   atomic.Int32
	listCalls   atomic.Int32
	failLists   int32
	callHandler func(name string, args map[string]any) map[string]any
}

func (f *fakeMCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	if req.Method != "initialize" && r.Header.Get("Mcp-Session-Id") != "session-1" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	var result any
	switch req.Method {
	case "initialize":
		f.initCalls.Add(1)
		w.Header().Set("Mcp-Session-Id", "session-1")
		result = map[string]any{"protocolVersion": mcpProtocolVersion}
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
		return
	case "tools/list":
		if f.listCalls.Add(1) <= f.failLists {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		result = map[string]any{"tools": []any{
			map[string]any{
				"name":        "get_top_traded_assets",
				"description": "Most traded assets",
				"inputSchema": json.RawMessage(topTradedSchema),
			},
		}}
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		require.NoError(f.t, json.Unmarshal(req.Params, &p))
		result = f.callHandler(p.Name, p.Arguments)
	default:
		result = nil
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
	body, _ := json.Marshal(resp)

	if f.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func newTestMCPClient(url string) *MCPClient {
	return NewMCPClient(MCPConfig{
		URL:     url,
		Timeout: 2 * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Millisecond,
			MaxBackoff:        20 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	})
}

func TestMCPClient_ListTools(t *testing.T) {
	fake := &fakeMCPServer{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestMCPClient(server.URL)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_top_traded_assets", tools[0].Name)
	assert.Equal(t, "integer", tools[0].Parameters["days"].Type)
	assert.NotEmpty(t, tools[0].InputSchema)

	_, err = client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.initCalls.Load(), "handshake should happen once")
}

func TestMCPClient_CallToolDecodesJSONText(t *testing.T) {
	fake := &fakeMCPServer{t: t, callHandler: func(name string, args map[string]any) map[string]any {
		text, _ := json.Marshal(map[string]any{"tool": name, "days": args["days"]})
		return map[string]any{"content": []any{map[string]any{"type": "text", "text": string(text)}}}
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	client := newTestMCPClient(server.URL)

	data, err := client.CallTool(context.Background(), "get_top_traded_assets", map[string]any{"days": 90})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tool": "get_top_traded_assets", "days": float64(90)}, data)
}

func TestMCPClient_CallToolPlainText(t *testing.T) {
	fake := &fakeMCPServer{t: t, callHandler: func(name string, args map[string]any) map[string]any {
		return map[string]any{"content": []any{map[string]any{"type": "text", "text": "no trades found"}}}
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	data, err := newTestMCPClient(server.URL).CallTool(context.Background(), "get_top_traded_assets", nil)
	require.NoError(t, err)
	assert.Equal(t, "no trades found", data)
}

func TestMCPClient_CallToolIsError(t *testing.T) {
	fake := &fakeMCPServer{t: t, callHandler: func(name string, args map[string]any) map[string]any {
		return map[string]any{
			"isError": true,
			"content": []any{map[string]any{"type": "text", "text": "scraper blocked"}},
		}
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestMCPClient(server.URL).CallTool(context.Background(), "get_top_traded_assets", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scraper blocked")
}

func TestMCPClient_EventStreamResponse(t *testing.T) {
	fake := &fakeMCPServer{t: t, sse: true, callHandler: func(name string, args map[string]any) map[string]any {
		return map[string]any{"structuredContent": map[string]any{"count": 3}}
	}}
	server := httptest.NewServer(fake)
	defer server.Close()

	data, err := newTestMCPClient(server.URL).CallTool(context.Background(), "get_top_traded_assets", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(3)}, data)
}

func TestMCPClient_RetriesUnavailable(t *testing.T) {
	fake := &fakeMCPServer{t: t, failLists: 1}
	server := httptest.NewServer(fake)
	defer server.Close()

	tools, err := newTestMCPClient(server.URL).ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.Equal(t, int32(2), fake.listCalls.Load())
}

func TestMCPClient_OpenBreakerFailsFast(t *testing.T) {
	fake := &fakeMCPServer{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	breaker := resilience.NewCircuitBreaker("tools-test", 1, time.Minute)
	breaker.RecordResult(false)

	client := NewMCPClient(MCPConfig{URL: server.URL, Breaker: breaker})

	_, err := client.ListTools(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "tools-test")
	assert.Equal(t, int32(0), fake.initCalls.Load())
}
