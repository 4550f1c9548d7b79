package userinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/shared/async"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebBridgeConfig configures the websocket front end.
type WebBridgeConfig struct {
	Address      string
	Debug        bool
	AllowOrigins []string
	WriteTimeout time.Duration
}

// DefaultWebBridgeConfig listens on localhost:8080 and accepts any origin.
func DefaultWebBridgeConfig() WebBridgeConfig {
	return WebBridgeConfig{Address: "localhost:8080", WriteTimeout: 10 * time.Second}
}

// WebBridge exposes a Duplex over HTTP: /ws carries messages both ways as
// JSON frames, /healthz reports liveness and /metrics serves Prometheus
// metrics. One socket at a time receives the agent's messages.
type WebBridge struct {
	duplex   *Duplex
	config   WebBridgeConfig
	provider *observability.Provider
	logger   logging.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr <-chan struct{}

	socketMu sync.Mutex
}

// NewWebBridge wires the routes. provider may be nil.
func NewWebBridge(duplex *Duplex, cfg WebBridgeConfig, provider *observability.Provider, logger logging.Logger) *WebBridge {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	b := &WebBridge{
		duplex:   duplex,
		config:   cfg,
		provider: provider,
		logger:   logging.OrNop(logger),
		engine:   gin.New(),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}

	b.engine.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowWebSockets = true
	b.engine.Use(cors.New(corsConfig))

	b.engine.GET("/healthz", b.handleHealth)
	b.engine.GET("/metrics", gin.WrapH(provider.Handler()))
	b.engine.GET("/ws", b.handleSocket)
	return b
}

func (b *WebBridge) checkOrigin(r *http.Request) bool {
	if len(b.config.AllowOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range b.config.AllowOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler, for embedding or tests.
func (b *WebBridge) Handler() http.Handler { return b.engine }

// Start listens on the configured address and serves in the background.
func (b *WebBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server != nil {
		return errors.New("web bridge already started")
	}
	listener, err := net.Listen("tcp", b.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Address, err)
	}
	server := &http.Server{Handler: b.engine, ReadHeaderTimeout: 5 * time.Second}
	b.server, b.listener = server, listener
	b.serveErr = async.Go(b.logger, "webbridge.serve", func() {
		b.logger.Info("web bridge listening on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("web bridge server error: %v", err)
		}
	})
	return nil
}

// Addr returns the bound address once started.
func (b *WebBridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Shutdown stops the server and waits for it to exit.
func (b *WebBridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	server, done := b.server, b.serveErr
	b.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (b *WebBridge) handleHealth(c *gin.Context) {
	status := "ok"
	if b.duplex.Interrupted() {
		status = "interrupted"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (b *WebBridge) handleSocket(c *gin.Context) {
	if !b.socketMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "another client is connected"})
		return
	}
	defer b.socketMu.Unlock()

	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sock := &socket{conn: conn, timeout: b.config.WriteTimeout}
	ctx, cancel := context.WithCancel(c.Request.Context())
	pumped := async.Go(b.logger, "webbridge.pump", func() {
		defer cancel()
		b.pumpToSocket(ctx, sock)
	})
	b.readFromSocket(ctx, sock)
	cancel()
	<-pumped
}

// socket serialises writers; gorilla connections allow one at a time.
type socket struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (s *socket) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// pumpToSocket forwards agent messages until ctx ends or the socket fails.
func (b *WebBridge) pumpToSocket(ctx context.Context, sock *socket) {
	for {
		msg, err := b.duplex.WaitAgentMsg(ctx)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		data, err := jsonx.Marshal(msg)
		if err != nil {
			b.logger.Error("encode agent message: %v", err)
			continue
		}
		if err := sock.write(data); err != nil {
			b.logger.Warn("websocket write failed: %v", err)
			return
		}
	}
}

// readFromSocket turns frames into user messages until the socket closes.
// Ending ctx closes the connection so a blocked read returns.
func (b *WebBridge) readFromSocket(ctx context.Context, sock *socket) {
	stop := context.AfterFunc(ctx, func() { _ = sock.conn.Close() })
	defer stop()
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := decodeFrame(data)
		if err != nil {
			b.writeError(sock, err)
			continue
		}
		if err := b.duplex.SendMsgToAgent(msg); err != nil {
			return
		}
	}
}

func (b *WebBridge) writeError(sock *socket, err error) {
	frame, _ := jsonx.Marshal(map[string]any{"error": err.Error()})
	if werr := sock.write(frame); werr != nil {
		b.logger.Debug("websocket error frame dropped: %v", werr)
	}
}

// decodeFrame reads a message envelope. Frames that are not a JSON object are
// taken as plain user text.
func decodeFrame(data []byte) (*message.Message, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty frame", message.ErrInvalidMessage)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return message.NewText(&message.Identity{Role: message.RoleUser}, nil, trimmed), nil
	}
	var msg message.Message
	if err := jsonx.Unmarshal([]byte(trimmed), &msg); err != nil {
		return nil, err
	}
	if msg.Sender == nil {
		msg.Sender = &message.Identity{Role: message.RoleUser}
	}
	return &msg, nil
}
