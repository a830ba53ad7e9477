package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/acquisition"
	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/bryanchriswhite/stereocam/internal/output"
	"github.com/bryanchriswhite/stereocam/internal/rig"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	version      = "0.1.0"
	writeTimeout = 5 * time.Second
)

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	rig       *rig.Rig
	state     *acquisition.State
	loop      *acquisition.Loop
	hub       *output.Hub
	configMgr *config.Manager
	upgrader  websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server. loop and configMgr may be nil.
func NewServer(r *rig.Rig, state *acquisition.State, loop *acquisition.Loop, hub *output.Hub, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		rig:       r,
		state:     state,
		loop:      loop,
		hub:       hub,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // subscribers are not browsers
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera control
	api.HandleFunc("/camera/active", s.handleSetActive).Methods("POST")
	api.HandleFunc("/camera/params", s.handleSetParams).Methods("POST")
	api.HandleFunc("/camera/status", s.handleStatus).Methods("GET")

	// Image streams
	api.HandleFunc("/stream/{stream}", s.handleStream).Methods("GET")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeAck(w http.ResponseWriter, status int, err error) {
	resp := AckResponse{Ack: AckOK}
	if err != nil {
		resp = AckResponse{Ack: AckFailed, Error: err.Error()}
	}
	writeJSON(w, status, resp)
}

// HTTP Handlers

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	s.state.SetDesired(req.Active)
	logger.WithComponent("api").Info().Bool("active", req.Active).Msg("Activation requested")
	writeAck(w, http.StatusOK, nil)
}

// handleSetParams reconfigures synchronously; the loop never sees a
// half-applied configuration.
func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAck(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	cfg, err := req.CameraConfig()
	if err != nil {
		writeAck(w, http.StatusBadRequest, err)
		return
	}

	if err := s.rig.Reconfigure(cfg, s.commitCamera); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, rig.ErrConcurrentReconfigure):
			status = http.StatusConflict
		case errors.Is(err, rig.ErrDeviceOpen):
			status = http.StatusBadGateway
		case errors.Is(err, config.ErrInvalidCamera):
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Str("config", cfg.String()).Msg("Reconfigure failed")
		writeAck(w, status, err)
		return
	}

	log.Info().Str("config", cfg.String()).Msg("Camera reconfigured")
	writeAck(w, http.StatusOK, nil)
}

// commitCamera records an applied configuration. It runs under the rig lock.
func (s *Server) commitCamera(cfg config.CameraConfig) {
	s.state.SetConfig(cfg)

	if s.configMgr != nil && s.configMgr.Get().Camera.PersistReconfigure {
		if err := s.configMgr.SetCamera(cfg); err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("Failed to persist camera configuration")
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Desired: s.state.Desired(),
		Current: s.state.Config(),
		Rig:     s.rig.Snapshot(),
		Hub:     s.hub.Stats(),
	}
	if s.loop != nil {
		stats := s.loop.Stats()
		resp.Loop = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration file", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// handleStream sends every image of the requested stream as one binary
// websocket message. The stereo stream sends left then right.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	stream, err := output.ParseStream(mux.Vars(r)["stream"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	sub, err := s.hub.Subscribe(stream, output.DefaultBuffer)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		return
	}
	defer func() {
		if err := s.hub.Unsubscribe(sub.ID); err != nil && !errors.Is(err, output.ErrUnknownSubscriber) {
			log.Warn().Err(err).Msg("Unsubscribe failed")
		}
	}()

	// the read side only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(writeTimeout))
				return
			}
			for _, img := range msg.Images {
				b, err := output.MarshalImage(img)
				if err != nil {
					log.Error().Err(err).Uint64("sequence", img.Sequence).Msg("Failed to encode image")
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
					log.Debug().Err(err).Str("subscriber", sub.ID.String()).Msg("WebSocket write error")
					return
				}
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"rig":     s.rig.State().String(),
	})
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>stereocam</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        a { color: #569cd6; }
    </style>
</head>
<body>
    <h1>stereocam</h1>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/camera/status">/api/camera/status</a></li>
        <li><a href="/api/config">/api/config</a></li>
        <li>POST /api/camera/active {"active": true}</li>
        <li>POST /api/camera/params {"left_device", "right_device", "width", "height", "fps"}</li>
        <li>ws /api/stream/{left|right|stereo}</li>
    </ul>
</body>
</html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexHTML))
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api") {
		http.NotFound(w, r)
		return
	}
	http.Error(w, "unknown endpoint", http.StatusNotFound)
}
