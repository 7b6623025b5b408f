package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/tripbridge/config"
	"github.com/room4-2/tripbridge/logging"
	"github.com/room4-2/tripbridge/messages"
	"github.com/room4-2/tripbridge/session"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	log            *slog.Logger

	// baseCtx outlives individual requests and is cancelled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		log:            slog.Default().With("component", "server"),
		baseCtx:        baseCtx,
		cancelBase:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info("websocket server starting", "port", s.config.Port, "endpoint", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.cancelBase()
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	clientConn, err := s.sessionManager.CreateConnection(r.Context(), conn)
	if err != nil {
		s.log.Warn("rejecting connection", "remote", r.RemoteAddr, "error", err)
		reject(conn, err)
		return
	}

	id := clientConn.ID
	s.log.Info("client connected", "conn", logging.ShortID(id), "remote", r.RemoteAddr)

	clientConn.Run(s.baseCtx)

	s.sessionManager.RemoveConnection(context.Background(), id)
	s.log.Info("client disconnected", "conn", logging.ShortID(id))
}

// reject tells the client why it cannot be served and closes the socket.
func reject(conn *websocket.Conn, err error) {
	defer conn.Close()
	data, encErr := messages.NewErrorMessage(messages.ErrCodeSessionFailed, err.Error()).Encode()
	if encErr != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many sessions"))
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := sonic.ConfigStd.Marshal(healthResponse{
		Status:   "ok",
		Sessions: s.sessionManager.GetActiveSessionCount(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
