package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrMissingSession is wrapped by the ProtocolError returned when the
// initialize response carries no session header.
var ErrMissingSession = errors.New("missing session id")

// ProtocolError is fatal to one outer tool server call: the handshake or the
// response envelope was not what the protocol requires.
type ProtocolError struct {
	Method string
	Status int
	Reason string
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("mcp %s: %s", e.Method, e.Reason)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RPCError is a JSON-RPC error object returned by the tool server.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error (%s): json-rpc error %d: %s", e.Method, e.Code, e.Message)
}

func newRPCError(method string, raw any) *RPCError {
	out := &RPCError{Method: method}
	switch v := raw.(type) {
	case map[string]any:
		if code, ok := v["code"].(float64); ok {
			out.Code = int(code)
		}
		out.Message = asString(v["message"])
		if out.Message == "" {
			out.Message = fmt.Sprint(v)
		}
	default:
		out.Message = fmt.Sprint(v)
	}
	return out
}

// IsProtocolError reports whether err is a protocol level failure (bad
// handshake, bad envelope, or a JSON-RPC error object).
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	var re *RPCError
	return errors.As(err, &pe) || errors.As(err, &re)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// ActionableMessageFromError maps tool server failures to operator guidance.
func ActionableMessageFromError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingSession):
		return "The tool server did not open a session. Check that the MCP URL points at the streamable HTTP endpoint."
	case isTimeout(err):
		return "The tool server did not answer in time. Check that it is running and reachable."
	case IsProtocolError(err):
		return "The tool server answered with an unexpected payload. Check the MCP URL and server version."
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return "Could not reach the tool server. Check the MCP URL and network."
		}
		return ""
	}
}
