package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/registry"
	"github.com/gradscan/scan-relay/internal/utils"
	"github.com/gradscan/scan-relay/pkg/ws"
)

// Server is the authoritative broker process: it owns the Connection
// Registry, routes messages between scanner and desktop connections and
// evicts dead connections.
type Server struct {
	registry      *registry.Registry
	pool          *utils.WorkerPool
	sweepInterval time.Duration
	logger        zerolog.Logger

	upgrader websocket.Upgrader

	// Internal state for managing the sweep loop lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewServer initializes a relay server around its own registry instance.
func NewServer(reg *registry.Registry, pool *utils.WorkerPool, sweepInterval time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		registry:      reg,
		pool:          pool,
		sweepInterval: sweepInterval,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the gin engine exposing the websocket endpoint and a
// health probe reporting live connection counts by role.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.GET("/ws", s.handleWebsocket)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": s.registry.CountByRole(),
		})
	})
	return r
}

// Start launches the dead-connection sweep loop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("Relay server is already running")
		return errors.New("relay server is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweepLoop(s.ctx)
	}()

	s.logger.Info().Dur("sweep_interval", s.sweepInterval).Msg("Relay server started")
	return nil
}

// Stop cancels the sweep loop and closes every live connection with the
// normal close code.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return errors.New("relay server is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil

	for _, rec := range s.registry.All() {
		if err := rec.Peer.CloseWithCode(ws.CloseNormal, "server shutting down"); err != nil {
			s.logger.Debug().Err(err).Str("handle", rec.Handle).Msg("Failed to close connection during shutdown")
		}
		s.registry.Remove(rec.Handle)
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

// handleWebsocket upgrades the HTTP request and serves the connection until
// it closes.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	s.ServeConn(ws.Wrap(conn))
}

// ServeConn runs the read loop for one connection. The connection handle is
// unique per physical connection and never reused.
func (s *Server) ServeConn(conn ws.Conn) {
	handle := uuid.NewString()
	s.logger.Debug().Str("handle", handle).Msg("Connection opened")

	defer s.dropConnection(handle)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			// Transport errors are logged only; the deferred drop is the
			// single cleanup path.
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("handle", handle).Msg("Connection read error")
			}
			return
		}
		s.HandleFrame(handle, conn, data)
	}
}

// dropConnection removes the Connection Record for a handle and, if the
// departed connection was a scanner, notifies all remaining desktops.
// Remove-if-present makes this safe to call from both the read loop and
// the sweep.
func (s *Server) dropConnection(handle string) {
	rec, ok := s.registry.Remove(handle)
	if !ok {
		return
	}

	s.logger.Info().Str("handle", handle).Str("role", rec.Role).Str("client_id", rec.ClientID).Msg("Connection removed")

	if rec.Role == roleScanner {
		s.broadcastToDesktops(scannerDisconnectedMessage(rec.ClientID))
	}
}
