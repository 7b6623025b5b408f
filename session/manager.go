package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/tripbridge/config"
	"github.com/room4-2/tripbridge/functions"
	"github.com/room4-2/tripbridge/logging"
)

// ErrMaxSessions is returned when the connection limit is reached.
var ErrMaxSessions = errors.New("maximum sessions reached")

const (
	activeSessionsKey = "active_sessions"
	cleanupInterval   = time.Minute
	redisWriteTimeout = 2 * time.Second
)

// Manager tracks every client connection of the process.
type Manager struct {
	sessions map[string]*Connection
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dialer   Dialer
	tools    *functions.Dispatcher
	log      *slog.Logger
}

// NewManager creates a manager. rdb may be nil, in which case the registry
// is only kept in memory.
func NewManager(cfg *config.Config, rdb *redis.Client, dialer Dialer, tools *functions.Dispatcher) *Manager {
	return &Manager{
		sessions: make(map[string]*Connection),
		redis:    rdb,
		config:   cfg,
		dialer:   dialer,
		tools:    tools,
		log:      slog.Default().With("component", "session_manager"),
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

// CreateConnection registers a new client connection.
func (sm *Manager) CreateConnection(ctx context.Context, clientConn *websocket.Conn) (*Connection, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	id := uuid.New().String()
	conn := NewConnection(id, clientConn, Options{
		Dialer:          sm.dialer,
		Tools:           sm.tools,
		KeepAlivePeriod: sm.config.KeepAlivePeriod,
		MaxBufferSize:   sm.config.MaxBufferSize,
		Observer:        sm,
		Logger:          slog.Default(),
	})
	sm.sessions[id] = conn

	if sm.redis != nil {
		created := conn.CreatedAt.Format(time.RFC3339)
		go sm.mirror(id, map[string]any{
			"created_at":    created,
			"last_activity": created,
			"state":         StateIdle.String(),
			"mode":          ModeLive.String(),
		})
	}
	sm.log.Info("connection created", "conn", logging.ShortID(id), "active", len(sm.sessions))
	return conn, nil
}

// ConnectionState mirrors a state change to redis.
func (sm *Manager) ConnectionState(id string, state State, mode Mode) {
	if sm.redis == nil {
		return
	}
	go sm.mirror(id, map[string]any{
		"last_activity": time.Now().Format(time.RFC3339),
		"state":         state.String(),
		"mode":          mode.String(),
	})
}

func (sm *Manager) mirror(id string, fields map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, sessionKey(id), fields)
	pipe.SAdd(ctx, activeSessionsKey, id)
	pipe.Expire(ctx, sessionKey(id), sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Debug("redis mirror failed", "conn", logging.ShortID(id), "error", err)
	}
}

// GetConnection retrieves a connection by ID
func (sm *Manager) GetConnection(id string) (*Connection, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	conn, exists := sm.sessions[id]
	return conn, exists
}

// RemoveConnection closes and forgets a connection.
func (sm *Manager) RemoveConnection(ctx context.Context, id string) {
	sm.mu.Lock()
	conn, exists := sm.sessions[id]
	if exists {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !exists {
		return
	}
	conn.Close()
	sm.forget(ctx, id)
	sm.log.Info("connection removed", "conn", logging.ShortID(id))
}

func (sm *Manager) forget(ctx context.Context, id string) {
	if sm.redis == nil {
		return
	}
	if err := sm.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		sm.log.Debug("redis delete failed", "conn", logging.ShortID(id), "error", err)
	}
	sm.redis.SRem(ctx, activeSessionsKey, id)
}

// GetActiveSessionCount returns current connection count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes connections idle for longer than the
// session timeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	now := time.Now()
	var stale []*Connection

	sm.mu.Lock()
	for id, conn := range sm.sessions {
		if now.Sub(conn.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, conn)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, conn := range stale {
		conn.Close()
		sm.forget(ctx, conn.ID)
		sm.log.Info("closed inactive connection", "conn", logging.ShortID(conn.ID))
	}
	return len(stale)
}

// StartCleanupRoutine starts periodic cleanup of inactive connections
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all connections
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	conns := sm.sessions
	sm.sessions = make(map[string]*Connection)
	sm.mu.Unlock()

	for id, conn := range conns {
		conn.Close()
		sm.forget(ctx, id)
	}
	sm.log.Info("session manager stopped", "closed", len(conns))
}
