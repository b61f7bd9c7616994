// Village HTTP Client Example (Go)
//
// This example demonstrates:
// - The initialize handshake
// - Listing the tool catalog
// - Calling tools (reserve, msg, inbox)
// - Following the SSE event stream
//
// Start the server first:
//   village http --port 8080
//
// Usage:
//   go run http-client.go

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"
)

// JSON-RPC types

type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Tool results arrive wrapped: the payload is a JSON document inside
// result.content[0].text.

type ToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Client

type VillageClient struct {
	baseURL string
	http    *http.Client
	nextID  int
}

func NewVillageClient(baseURL string) *VillageClient {
	return &VillageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 35 * time.Second},
		nextID:  1,
	}
}

func (c *VillageClient) call(method string, params any) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID,
	}
	c.nextID++

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.http.Post(c.baseURL+"/mcp", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer httpResp.Body.Close()

	var resp JSONRPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *VillageClient) Initialize() error {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]string{"name": "http-client-example", "version": "0.1"},
	}

	result, err := c.call("initialize", params)
	if err != nil {
		return err
	}

	var resp struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	log.Printf("✓ Connected to %s v%s", resp.ServerInfo.Name, resp.ServerInfo.Version)
	return nil
}

func (c *VillageClient) ListTools() ([]string, error) {
	result, err := c.call("tools/list", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	names := make([]string, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// CallTool invokes one tool and returns its unwrapped JSON payload. Most
// tools answer with an object; inbox and reservations answer with an array.
func (c *VillageClient) CallTool(name string, args map[string]any) (any, error) {
	result, err := c.call("tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var wrapped ToolResult
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if len(wrapped.Content) == 0 {
		return nil, fmt.Errorf("empty tool result")
	}

	var payload any
	if err := json.Unmarshal([]byte(wrapped.Content[0].Text), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if obj, ok := payload.(map[string]any); ok {
		if errMsg, found := obj["error"]; found {
			return payload, fmt.Errorf("tool error: %v (hint: %v)", errMsg, obj["hint"])
		}
	}
	return payload, nil
}

// Listen follows the SSE stream and prints each event until the connection
// drops. The server sends an endpoint event first, then periodic pings.
func (c *VillageClient) Listen(done <-chan struct{}) error {
	// c.http's overall timeout would cut the stream; SSE runs unbounded.
	stream := &http.Client{}
	resp, err := stream.Get(c.baseURL + "/mcp")
	if err != nil {
		return fmt.Errorf("get event stream: %w", err)
	}
	defer resp.Body.Close()

	go func() {
		<-done
		resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			log.Printf("   event: %s", strings.TrimPrefix(line, "event: "))
		}
	}
	return nil
}

func main() {
	client := NewVillageClient("http://localhost:8080")

	// 1. Handshake
	if err := client.Initialize(); err != nil {
		log.Fatalf("Initialize failed: %v", err)
	}

	// 2. Discover the catalog
	tools, err := client.ListTools()
	if err != nil {
		log.Fatalf("List tools failed: %v", err)
	}
	log.Printf("✓ %d tools: %s ...", len(tools), strings.Join(tools[:5], ", "))

	// 3. Reserve a file before editing it
	payload, err := client.CallTool("reserve", map[string]any{
		"paths":  []string{"src/main.go"},
		"ttl":    300,
		"reason": "demo edit",
	})
	if err != nil {
		log.Fatalf("Reserve failed: %v", err)
	}
	reservation := payload.(map[string]any)
	log.Printf("✓ Reserved: %v (expires %v)", reservation["granted"], reservation["expires"])

	// 4. Tell the team
	if _, err := client.CallTool("msg", map[string]any{
		"subj": "Hello from the Go HTTP client example",
		"body": "Editing src/main.go for a few minutes.",
	}); err != nil {
		log.Fatalf("Send message failed: %v", err)
	}
	log.Println("✓ Message sent")

	// 5. Read the inbox
	inbox, err := client.CallTool("inbox", map[string]any{"n": 5})
	if err != nil {
		log.Fatalf("Inbox failed: %v", err)
	}
	if items, ok := inbox.([]any); ok {
		log.Printf("✓ Inbox has %d message(s)", len(items))
		for _, item := range items {
			msg := item.(map[string]any)
			log.Printf("   [%v] %v: %v", msg["imp"], msg["f"], msg["s"])
		}
	}

	// 6. Follow the event stream until Ctrl+C
	log.Println("👂 Listening for events... (press Ctrl+C to exit)")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})
	go func() {
		<-interrupt
		close(done)
	}()

	if err := client.Listen(done); err != nil {
		log.Printf("Stream closed: %v", err)
	}
	log.Println("Shutting down...")
}
