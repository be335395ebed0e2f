package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"labagent/internal/protocol"
)

const (
	DefaultCallTimeout = 45 * time.Second
	DefaultListTimeout = 15 * time.Second

	maxBodyBytes = 8 << 20
)

// Client talks to the lab tool server. Every outer call opens its own
// session (initialize, initialized, request) and forgets it afterwards, so
// the client never has to recover from an expired session.
type Client struct {
	endpoint      string
	clientVersion string
	verbose       bool
	httpClient    *http.Client

	// CallTimeout bounds tools/call, ListTimeout bounds tools/list.
	CallTimeout time.Duration
	ListTimeout time.Duration

	// Logger is optional; when nil the standard logger is used.
	Logger *log.Logger
}

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      *int           `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

func New(endpoint, clientVersion string, verbose bool) *Client {
	return NewWithHTTPClient(endpoint, clientVersion, &http.Client{}, verbose)
}

func NewWithHTTPClient(endpoint, clientVersion string, httpClient *http.Client, verbose bool) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if strings.TrimSpace(clientVersion) == "" {
		clientVersion = "0.1.0"
	}
	return &Client{
		endpoint:      strings.TrimSpace(endpoint),
		clientVersion: clientVersion,
		verbose:       verbose,
		httpClient:    httpClient,
		CallTimeout:   DefaultCallTimeout,
		ListTimeout:   DefaultListTimeout,
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call runs one JSON-RPC method on a fresh session and returns its result
// object. Missing session headers, JSON-RPC errors and unreadable bodies are
// reported as protocol errors; nothing is retried.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	raw, err := c.callRaw(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &result)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  any             `json:"error"`
}

// callRaw is Call without decoding the result, for callers that need the
// server's key order.
func (c *Client) callRaw(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	sessionID, err := c.initialize(ctx)
	if err != nil {
		return nil, err
	}

	// The server does not answer the notification in any useful way; a
	// failure here shows up on the real request anyway.
	if status, _, err := c.post(ctx, sessionID, protocol.RPCMethodNotificationsInitialized, nil, map[string]any{}); err != nil {
		c.logf("[mcp] %s failed: %v", protocol.RPCMethodNotificationsInitialized, err)
	} else if c.verbose {
		c.logf("[mcp] <- %s (%d)", protocol.RPCMethodNotificationsInitialized, status)
	}

	id := 1
	status, body, err := c.post(ctx, sessionID, method, &id, params)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ProtocolError{Method: method, Status: status, Reason: "unexpected http status", Body: snippet(body)}
	}

	payload, ok := parseSSEBody(body)
	var envelope rpcEnvelope
	if ok && json.Unmarshal(payload, &envelope) != nil {
		ok = false
	}
	if !ok {
		return nil, &ProtocolError{Method: method, Status: status, Reason: "empty or unparseable SSE response", Body: snippet(body)}
	}
	if envelope.Error != nil {
		return nil, newRPCError(method, envelope.Error)
	}
	if c.verbose {
		c.logf("[mcp] <- %s (%d)", method, status)
	}
	return envelope.Result, nil
}

func (c *Client) initialize(ctx context.Context) (string, error) {
	id := 0
	params := map[string]any{
		"protocolVersion": protocol.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": protocol.ClientName, "version": c.clientVersion},
	}
	status, body, header, err := c.postWithHeader(ctx, "", protocol.RPCMethodInitialize, &id, params)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &ProtocolError{Method: protocol.RPCMethodInitialize, Status: status, Reason: "unexpected http status", Body: snippet(body)}
	}
	sessionID := strings.TrimSpace(header.Get(protocol.MCPSessionHeader))
	if sessionID == "" {
		return "", &ProtocolError{
			Method: protocol.RPCMethodInitialize,
			Status: status,
			Reason: fmt.Sprintf("server returned no %s header", protocol.MCPSessionHeader),
			Body:   snippet(body),
			Err:    ErrMissingSession,
		}
	}
	return sessionID, nil
}

func (c *Client) post(ctx context.Context, sessionID, method string, id *int, params map[string]any) (int, []byte, error) {
	status, body, _, err := c.postWithHeader(ctx, sessionID, method, id, params)
	return status, body, err
}

func (c *Client) postWithHeader(ctx context.Context, sessionID, method string, id *int, params map[string]any) (int, []byte, http.Header, error) {
	payload, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if c.verbose {
		c.logf("[mcp] -> %s", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(protocol.MCPSessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}
	return resp.StatusCode, body, resp.Header, nil
}

// parseSSEBody returns the first JSON object carried on a data line. Servers
// that answer with plain JSON instead of an event stream are accepted too.
func parseSSEBody(body []byte) (json.RawMessage, bool) {
	s := bufio.NewScanner(bytes.NewReader(body))
	s.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, protocol.SSEDataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, protocol.SSEDataPrefix))
		if payload == "" || payload == protocol.SSEDoneSentinel {
			continue
		}
		if isJSONObject([]byte(payload)) {
			return json.RawMessage(payload), true
		}
	}

	trimmed := bytes.TrimSpace(body)
	if !isJSONObject(trimmed) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

func isJSONObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

func snippet(body []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
