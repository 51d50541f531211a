// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/registry"
	"github.com/callvault/callvault/sessiontoken"
)

// HTTPServer serves the HTTP surface on a TCP listener: health and
// diagnostics, server time, TURN configuration, and session token
// minting. Serve(ctx) blocks until the context is cancelled and
// active requests drain.
type HTTPServer struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	shutdownTimeout time.Duration

	// ready is closed after the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address. Required.
	Address string

	// Handler is the HTTP handler. Required; build it with NewHTTPHandler.
	Handler http.Handler

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewHTTPServer creates a server that will listen on the configured
// address. Call Serve to start accepting connections.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("server.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("server.HTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("server.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPServer{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound.
func (s *HTTPServer) Ready() <-chan struct{} { return s.ready }

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *HTTPServer) Addr() net.Addr { return s.addr }

// Serve starts accepting HTTP connections. Blocks until ctx is
// cancelled, then performs graceful shutdown.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// All endpoints exchange small JSON bodies; generous timeouts
		// protect against slow clients holding connections open.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// HTTPConfig configures the HTTP handler.
type HTTPConfig struct {
	// Version is the reported build version.
	Version string

	// Registry supplies the live-connection count for diagnostics.
	Registry *registry.Registry

	// SigningKey mints session tokens. Required for the session token
	// endpoint.
	SigningKey ed25519.PrivateKey

	// ICE supplies STUN/TURN configuration.
	ICE *sessiontoken.ICEConfig

	// SessionTokenTTL bounds minted session tokens. Defaults to 5m.
	SessionTokenTTL time.Duration

	// DemoMode is surfaced in diagnostics.
	DemoMode bool

	// Clock provides time. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. If nil, logs are discarded.
	Logger *slog.Logger
}

type httpHandler struct {
	version   string
	registry  *registry.Registry
	key       ed25519.PrivateKey
	ice       *sessiontoken.ICEConfig
	tokenTTL  time.Duration
	demoMode  bool
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time
}

// NewHTTPHandler builds the HTTP surface.
func NewHTTPHandler(cfg HTTPConfig) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SessionTokenTTL <= 0 {
		cfg.SessionTokenTTL = 5 * time.Minute
	}
	handler := &httpHandler{
		version:   cfg.Version,
		registry:  cfg.Registry,
		key:       cfg.SigningKey,
		ice:       cfg.ICE,
		tokenTTL:  cfg.SessionTokenTTL,
		demoMode:  cfg.DemoMode,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		startedAt: cfg.Clock.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", requireMethod(http.MethodGet, handler.health))
	mux.HandleFunc("/api/health", requireMethod(http.MethodGet, handler.health))
	mux.HandleFunc("/api/version", requireMethod(http.MethodGet, handler.versionInfo))
	mux.HandleFunc("/api/diagnostics", requireMethod(http.MethodGet, handler.diagnostics))
	mux.HandleFunc("/api/server-time", requireMethod(http.MethodGet, handler.serverTime))
	mux.HandleFunc("/api/turn-config", requireMethod(http.MethodGet, handler.turnConfig))
	mux.HandleFunc("/api/call-session-token", requireMethod(http.MethodPost, handler.sessionToken))
	return mux
}

// requireMethod reproduces the method dispatch of Go 1.22+ ServeMux
// method patterns ("GET /path") on Go 1.21: a request with another
// method gets 405 with an Allow header, and GET also matches HEAD.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (h *httpHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("response write failed", "error", err)
	}
}

func (h *httpHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *httpHandler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (h *httpHandler) versionInfo(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *httpHandler) diagnostics(w http.ResponseWriter, _ *http.Request) {
	connections := 0
	if h.registry != nil {
		connections = h.registry.Count()
	}
	turnConfigured := h.ice != nil && len(h.ice.TURNURLs) > 0 && h.ice.Issuer != nil
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(h.clock.Now().Sub(h.startedAt).Seconds()),
		"connections":    connections,
		"demo_mode":      h.demoMode,
		"webrtc": map[string]any{
			"turnConfigured": turnConfigured,
			"stunServers":    len(h.stunURLs()),
		},
	})
}

func (h *httpHandler) stunURLs() []string {
	if h.ice == nil {
		return nil
	}
	return h.ice.STUNURLs
}

// serverTime lets clients measure clock skew before signing
// envelopes: a client whose clock drifts past the accepted window
// corrects its envelope timestamps from this value.
func (h *httpHandler) serverTime(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"server_time_ms": h.clock.Now().UnixMilli(),
	})
}

func (h *httpHandler) turnConfig(w http.ResponseWriter, r *http.Request) {
	if h.ice == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"iceServers": []webrtc.ICEServer{}})
		return
	}

	// Relay credentials are minted only when the caller identifies
	// itself; anonymous queries get the STUN-only view.
	var address ref.Address
	allowTurn := false
	if raw := r.URL.Query().Get("address"); raw != "" {
		parsed, err := ref.ParseAddress(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		address = parsed
		allowTurn = true
	}

	servers, err := h.ice.Servers(address, allowTurn, h.clock.Now())
	if err != nil {
		h.logger.Error("building ice configuration", "error", err)
		h.writeError(w, http.StatusInternalServerError, "ice configuration unavailable")
		return
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// sessionTokenRequest is the POST /api/call-session-token body.
type sessionTokenRequest struct {
	Address string `json:"address"`
	Plan    string `json:"plan"`
}

func (h *httpHandler) sessionToken(w http.ResponseWriter, r *http.Request) {
	if h.key == nil {
		h.writeError(w, http.StatusServiceUnavailable, "session tokens not configured")
		return
	}

	var request sessionTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	address, err := ref.ParseAddress(request.Address)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	plan := sessiontoken.Plan(request.Plan)
	if plan == "" {
		plan = sessiontoken.PlanFree
	}
	if plan != sessiontoken.PlanFree && plan != sessiontoken.PlanPro {
		h.writeError(w, http.StatusBadRequest, "invalid plan")
		return
	}

	nonce, err := sessiontoken.NewNonce()
	if err != nil {
		h.logger.Error("nonce generation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "token minting failed")
		return
	}

	now := h.clock.Now()
	allowTurn, allowVideo, allowMerge := sessiontoken.Entitlements(plan)
	token := &sessiontoken.Token{
		Address:    address,
		Nonce:      nonce,
		Plan:       plan,
		AllowTurn:  allowTurn,
		AllowVideo: allowVideo,
		AllowMerge: allowMerge,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(h.tokenTTL).Unix(),
	}
	tokenBytes, err := sessiontoken.Mint(h.key, token)
	if err != nil {
		h.logger.Error("token minting failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "token minting failed")
		return
	}

	servers := []webrtc.ICEServer{}
	if h.ice != nil {
		built, err := h.ice.Servers(address, allowTurn, now)
		if err != nil {
			h.logger.Error("building ice configuration", "error", err)
			h.writeError(w, http.StatusInternalServerError, "ice configuration unavailable")
			return
		}
		if built != nil {
			servers = built
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"token":      base64.StdEncoding.EncodeToString(tokenBytes),
		"nonce":      nonce,
		"plan":       plan,
		"allowTurn":  allowTurn,
		"allowVideo": allowVideo,
		"allowMerge": allowMerge,
		"expiresAt":  token.ExpiresAt,
		"iceServers": servers,
	})
}
