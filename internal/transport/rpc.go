package transport

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/village"
)

// JSON-RPC 2.0 error codes used on the wire.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// request is a JSON-RPC 2.0 request. A missing id marks a notification.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// response is a JSON-RPC 2.0 response. ID has no omitempty so parse-error
// replies carry the null id the protocol requires.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// callParams is the tools/call argument envelope.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func errorResponse(id json.RawMessage, code int, msg string) *response {
	return &response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: msg}, ID: id}
}

func resultResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", Result: result, ID: id}
}

// handleRaw parses one raw request body and dispatches it. A nil response
// means the request was a notification and nothing must be written back.
func handleRaw(ctx context.Context, srv *village.Server, raw []byte) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := errorResponse(nil, codeParseError, "Parse error")
		resp.Error.Data = err.Error()
		return resp
	}
	return dispatch(ctx, srv, &req)
}

// dispatch routes one parsed request to the tool surface.
func dispatch(ctx context.Context, srv *village.Server, req *request) *response {
	log.WithFields(log.Fields{"method": req.Method, "transport": KindFrom(ctx).String()}).Debug("rpc")

	if req.Method == "notifications/initialized" {
		return nil
	}
	if len(req.ID) == 0 {
		// Notification: no reply, whatever the method.
		return nil
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, srv.Initialize())

	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": srv.Tools()})

	case "tools/call":
		var p callParams
		if len(req.Params) > 0 {
			// Undecodable params leave the name empty and fall through to
			// the unknown-tool error.
			_ = json.Unmarshal(req.Params, &p)
		}
		res, known := srv.Call(ctx, p.Name, p.Arguments)
		if !known {
			return errorResponse(req.ID, codeMethodNotFound, srv.UnknownTool(p.Name))
		}
		return resultResponse(req.ID, res)

	case "ping":
		return resultResponse(req.ID, map[string]any{})

	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

// encode marshals a response. A result that will not marshal degrades to an
// internal-error reply rather than a dropped one.
func encode(resp *response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errorResponse(resp.ID, codeInternalError, "Internal error"))
	}
	return data
}
