package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/trades-chat/internal/observability"
	"github.com/lexiqai/trades-chat/internal/resilience"
)

const (
	mcpProtocolVersion = "2025-03-26"
	mcpSessionHeader   = "Mcp-Session-Id"
)

// MCPConfig configures the MCP client
type MCPConfig struct {
	URL     string        // Streamable HTTP endpoint, e.g. http://localhost:3001/mcp
	Timeout time.Duration // HTTP request timeout
	Breaker *resilience.CircuitBreaker
	Retry   *resilience.RetryConfig
}

// MCPClient calls data functions over MCP (JSON-RPC 2.0 over HTTP)
type MCPClient struct {
	config     MCPConfig
	httpClient *http.Client
	nextID     atomic.Int64

	mu          sync.Mutex
	initialized bool
	sessionID   string
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
}

type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpCallResult struct {
	Content           []mcpContent    `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent"`
	IsError           bool            `json:"isError"`
}

// NewMCPClient creates a new MCP client
func NewMCPClient(cfg MCPConfig) *MCPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MCPClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ListTools fetches the function catalog with tools/list
func (c *MCPClient) ListTools(ctx context.Context) ([]Descriptor, error) {
	var result struct {
		Tools []mcpTool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		if t.Name == "" {
			continue
		}
		descriptors = append(descriptors, descriptorFromSchema(t.Name, t.Description, t.InputSchema))
	}
	return descriptors, nil
}

// CallTool invokes one function with tools/call
func (c *MCPClient) CallTool(ctx context.Context, name string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}

	var result mcpCallResult
	err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": params,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	if result.IsError {
		return nil, fmt.Errorf("tool %s returned an error: %s", name, joinText(result.Content))
	}

	return decodeContent(result), nil
}

// Ping verifies the service answers tools/list
func (c *MCPClient) Ping(ctx context.Context) error {
	_, err := c.ListTools(ctx)
	return err
}

func (c *MCPClient) call(ctx context.Context, method string, params any, out any) error {
	op := func(ctx context.Context) error {
		if err := c.ensureInitialized(ctx); err != nil {
			return err
		}
		return c.roundTrip(ctx, method, params, out)
	}

	guarded := op
	if c.config.Breaker != nil {
		guarded = func(ctx context.Context) error {
			err := c.config.Breaker.Call(func() error { return op(ctx) })
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("%s: %w", c.config.Breaker.Name(), err)
			}
			return err
		}
	}

	if c.config.Retry == nil {
		return guarded(ctx)
	}
	return resilience.Retry(ctx, guarded, c.config.Retry, resilience.IsRetryableNetworkError)
}

// ensureInitialized performs the MCP handshake once per session
func (c *MCPClient) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	var result json.RawMessage
	err := c.roundTripLocked(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    observability.ServiceName,
			"version": observability.ServiceVersion,
		},
	}, &result)
	if err != nil {
		return fmt.Errorf("mcp initialize failed: %w", err)
	}

	if err := c.notifyLocked(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("mcp initialized notification failed: %w", err)
	}

	c.initialized = true
	observability.FromContext(ctx).Info().Str("url", c.config.URL).Msg("MCP session initialized")
	return nil
}

func (c *MCPClient) roundTrip(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	err := c.send(ctx, sessionID, method, params, out)
	if errors.Is(err, errSessionExpired) {
		c.mu.Lock()
		c.initialized = false
		c.sessionID = ""
		c.mu.Unlock()
		return resilience.NewRetryableError(err)
	}
	return err
}

// roundTripLocked must be called with mu held
func (c *MCPClient) roundTripLocked(ctx context.Context, method string, params any, out any) error {
	return c.send(ctx, c.sessionID, method, params, out)
}

var errSessionExpired = errors.New("mcp session expired")

func (c *MCPClient) send(ctx context.Context, sessionID, method string, params any, out any) error {
	id := c.nextID.Add(1)
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, sessionID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(mcpSessionHeader); sid != "" && method == "initialize" {
		c.sessionID = sid
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && sessionID != "":
		return errSessionExpired
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.NewRetryableError(fmt.Errorf("mcp request failed: %d - %s", resp.StatusCode, string(msg)))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mcp request failed: %d - %s", resp.StatusCode, string(msg))
	}

	var rpcResp *jsonRPCResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		rpcResp, err = parseSSEResponse(resp.Body, id)
	} else {
		rpcResp = &jsonRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// notifyLocked sends a JSON-RPC notification; must be called with mu held
func (c *MCPClient) notifyLocked(ctx context.Context, method string) error {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, c.sessionID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification rejected: %d", resp.StatusCode)
	}
	return nil
}

func (c *MCPClient) post(ctx context.Context, sessionID string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(mcpSessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseSSEResponse returns the JSON-RPC response carrying id from an SSE body
func parseSSEResponse(body io.Reader, id int64) (*jsonRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	want := fmt.Sprintf("%d", id)
	var data strings.Builder

	flush := func() (*jsonRPCResponse, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			return nil, false
		}
		if string(resp.ID) != want {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if resp, ok := flush(); ok {
				return resp, nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no response for request %s in event stream", want)
}

// decodeContent prefers structured content, then JSON-decoded text parts
func decodeContent(result mcpCallResult) any {
	if len(result.StructuredContent) > 0 && string(result.StructuredContent) != "null" {
		var v any
		if err := json.Unmarshal(result.StructuredContent, &v); err == nil {
			return v
		}
	}

	var parts []any
	for _, c := range result.Content {
		if c.Type != "text" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(c.Text), &v); err == nil {
			parts = append(parts, v)
		} else {
			parts = append(parts, c.Text)
		}
	}

	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return parts
	}
}

func joinText(content []mcpContent) string {
	var texts []string
	for _, c := range content {
		if c.Type == "text" && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return "unknown error"
	}
	return strings.Join(texts, "; ")
}
