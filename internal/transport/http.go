package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/village"
)

// rpcPath is the single base path both HTTP methods share. The SSE endpoint
// event advertises it to clients as the POST target.
const rpcPath = "/mcp"

// defaultPingInterval paces SSE keep-alive events.
const defaultPingInterval = 15 * time.Second

// HTTP serves the protocol over HTTP POST with an SSE liveness channel.
// Requests dispatch concurrently; the tool surface is safe for that.
type HTTP struct {
	srv       *village.Server
	server    *http.Server
	pingEvery time.Duration
}

// NewHTTP returns an HTTP transport bound to addr ("host:port").
func NewHTTP(srv *village.Server, addr string) *HTTP {
	h := &HTTP{srv: srv, pingEvery: defaultPingInterval}

	r := mux.NewRouter()
	r.Use(allowAll)
	r.HandleFunc(rpcPath, h.handleEvents).Methods(http.MethodGet)
	r.HandleFunc(rpcPath, h.handleRPC).Methods(http.MethodPost)
	r.HandleFunc(rpcPath, noContent).Methods(http.MethodOptions)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Handler exposes the router for tests and embedding.
func (h *HTTP) Handler() http.Handler { return h.server.Handler }

// Run serves until ctx is canceled, then drains in-flight requests. Request
// contexts derive from ctx, so open event streams end with it.
func (h *HTTP) Run(ctx context.Context) error {
	base := WithKind(ctx, KindHTTP)
	h.server.BaseContext = func(net.Listener) context.Context { return base }

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": h.server.Addr, "agent": h.srv.Agent()}).Info("http transport ready")
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	}
}

// handleRPC answers one JSON-RPC request. Protocol-level failures stay HTTP
// 200 with a JSON-RPC error body; clients parse the body, not the status.
func (h *HTTP) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	resp := handleRaw(r.Context(), h.srv, body)
	if resp == nil {
		// Notification: acknowledge with an empty 200.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(encode(resp)); err != nil {
		log.WithField("err", err).Debug("write response")
	}
}

// handleEvents opens the SSE channel: one endpoint event naming the POST
// target, then pings until the client goes away. No tool results ride this
// stream; it exists for protocol compliance and liveness.
func (h *HTTP) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn := session.NewConnectionID()
	log.WithField("conn", conn).Info("event stream open")

	// The endpoint data is the POST URI as a bare string, not JSON.
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", rpcPath)
	flusher.Flush()

	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.WithField("conn", conn).Debug("event stream closed")
			return
		case <-ticker.C:
			fmt.Fprint(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

func (h *HTTP) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"server":      village.ServerName,
		"version":     h.srv.Version(),
		"agent":       h.srv.Agent(),
		"workspace":   h.srv.Workspace(),
		"team":        h.srv.Team(),
		"tools_count": len(h.srv.Tools()),
	})
	if err != nil {
		log.WithField("err", err).Debug("write health")
	}
}

// allowAll is the permissive CORS policy: the trust boundary is the shared
// filesystem and the network in front of it, not the transport. OPTIONS
// preflights short-circuit here.
func allowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// noContent anchors the OPTIONS route; the CORS middleware already replied.
func noContent(http.ResponseWriter, *http.Request) {}
