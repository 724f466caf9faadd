package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
)

// httpSearchRequest is the loopback endpoint's request body.
type httpSearchRequest struct {
	Query   string `json:"query"`
	TopN    int    `json:"top_n,omitempty"`
	Project string `json:"project,omitempty"`
}

type httpSearchResponse struct {
	Text string `json:"text"`
}

type httpErrorResponse struct {
	Error string `json:"error"`
}

// HTTPServer exposes the same search operation over a loopback
// net/http endpoint, grounded on internal/daemon/server.go's listener
// lifecycle (ListenAndServe/graceful shutdown), swapped from a Unix
// socket to a TCP loopback address per spec §6.4.
type HTTPServer struct {
	addr     string
	searcher Searcher
	logger   *slog.Logger

	srv     *http.Server
	readyCh chan string
}

// NewHTTPServer builds an HTTPServer bound to 127.0.0.1:port. port 0
// lets the OS assign an ephemeral port (the bound address is then
// available from Addr after ListenAndServe starts).
func NewHTTPServer(searcher Searcher, port int) *HTTPServer {
	return &HTTPServer{
		addr:     fmt.Sprintf("127.0.0.1:%d", port),
		searcher: searcher,
		logger:   slog.Default(),
		readyCh:  make(chan string, 1),
	}
}

// Addr blocks until ListenAndServe has bound its listener, then
// returns the actual address (useful when constructed with port 0).
func (h *HTTPServer) Addr() string {
	addr := <-h.readyCh
	h.readyCh <- addr
	return addr
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (h *HTTPServer) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.readyCh <- listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/search", h.handleSearch)

	h.srv = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", slog.String("addr", h.addr))
		errCh <- h.srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("HTTP server shutdown did not complete cleanly", slog.String("error", err.Error()))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Close stops the server immediately, without waiting for in-flight
// requests to drain.
func (h *HTTPServer) Close() error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Close()
}

func (h *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req httpSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}

	results, err := h.searcher.Search(r.Context(), orchestrator.Query{
		Text:    req.Query,
		TopN:    req.TopN,
		Project: req.Project,
	})
	if err != nil {
		writeHTTPError(w, http.StatusUnprocessableEntity, orchestrator.FormatFailure(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(httpSearchResponse{Text: FormatResults(req.Query, results)})
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(httpErrorResponse{Error: message})
}
