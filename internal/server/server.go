// Package server hosts the routelens command surface: a chi-routed HTTP
// endpoint dispatching analysis commands, a health check, and a WebSocket
// endpoint that streams report sections for a trace as they are produced.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/routelens/internal/analysis"
	"github.com/xkilldash9x/routelens/internal/analyzer"
	"github.com/xkilldash9x/routelens/internal/config"
	"github.com/xkilldash9x/routelens/internal/enrich"
	"github.com/xkilldash9x/routelens/internal/observability"
	"github.com/xkilldash9x/routelens/internal/store"
	"github.com/xkilldash9x/routelens/internal/topology"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The command surface binds to loopback by default; origin policy
		// belongs to the deployment's reverse proxy.
		return true
	},
}

// WebSocket timeouts and limits, per the Gorilla pump pattern.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4096
	sendChannelSize = 64
)

// Server hosts the HTTP listener and owns the analysis pipeline wiring.
type Server struct {
	cfg        config.Interface
	logger     *zap.Logger
	dbPool     *pgxpool.Pool
	httpServer *http.Server

	analyzer TraceAnalyzer
	handlers *Handlers
	limiter  *ipRateLimiter
}

// NewServer initializes the server and the full pipeline behind it:
// configuration, logger, database pool, store, enrichment, analysis,
// topology, and handlers.
func NewServer() (*Server, error) {
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The CLI layer has already read the config file and env into the
	// global viper; defaults are idempotent to set again.
	v := viper.GetViper()
	config.SetDefaults(v)
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("routelens server initialization started")

	dbURL := cfg.Database().URL
	if dbURL == "" {
		return nil, errors.New("database URL (ROUTELENS_DATABASE_URL) is not set")
	}
	pool, err := pgxpool.New(initCtx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	st, err := store.New(initCtx, pool, cfg.Database().QueryTimeout, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("database connection established")

	analysisCfg := cfg.Analysis()
	resolver := enrich.NewResolver(st, logger)
	joiner := enrich.NewJoiner(st, resolver, analysisCfg.ResolverConcurrency, logger)

	pipeline := analyzer.New(
		joiner,
		analysis.NewDeriver(analysisCfg.LatencySpikeThresholdMs, logger),
		analysis.NewClassifier(analysis.NewRuleSet(analysisCfg), logger),
		topology.NewBuilder(logger),
		logger,
	)

	srv := newServerWith(cfg, logger, pipeline, st)
	srv.dbPool = pool
	return srv, nil
}

// newServerWith assembles a Server from pre-built components. Tests use it
// to run the HTTP surface against stub pipelines.
func newServerWith(cfg config.Interface, logger *zap.Logger, pipeline TraceAnalyzer, browser SchemaBrowser) *Server {
	serverCfg := cfg.Server()
	return &Server{
		cfg:      cfg,
		logger:   logger,
		analyzer: pipeline,
		handlers: NewHandlers(logger, pipeline, browser),
		limiter:  newIPRateLimiter(serverCfg.RateLimitPerSecond, serverCfg.RateLimitBurst),
	}
}

// router builds the full route tree.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server().RequestTimeout))

	// The ws endpoint sits outside the rate limiter: one long-lived
	// connection, not a request stream.
	r.Get("/ws/v1/trace", s.handleTraceStream())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		s.handlers.RegisterRoutes(r)
	})

	return r
}

// Start runs the HTTP listener until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	defer observability.Sync()

	addr := s.cfg.Server().ListenAddr
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}

	s.logger.Info("routelens server starting", zap.String("address", addr))

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("received shutdown signal, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if s.dbPool != nil {
			s.logger.Info("closing database connections")
			s.dbPool.Close()
		}
		close(idleConnsClosed)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
		if s.dbPool != nil {
			s.dbPool.Close()
		}
		return err
	}

	<-idleConnsClosed
	s.logger.Info("routelens server stopped")
	return nil
}

// -- Rate limiting --

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// middleware rejects requests exceeding the per-IP budget with 429.
// A zero rate disables limiting entirely.
func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	if l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RealIP middleware may have replaced RemoteAddr with a bare IP.
			ip = r.RemoteAddr
		}
		if !l.get(ip).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// -- WebSocket streaming --

// wsMessageType labels the frames the trace stream emits.
type wsMessageType string

const (
	msgTypeStatus      wsMessageType = "status"
	msgTypeEnrichment  wsMessageType = "enrichment"
	msgTypeTopology    wsMessageType = "topology"
	msgTypeAnomalies   wsMessageType = "anomalies"
	msgTypeComplete    wsMessageType = "complete"
	msgTypeStreamError wsMessageType = "error"
)

// wsMessage is one frame of the trace stream.
type wsMessage struct {
	Type      wsMessageType `json:"type"`
	Data      interface{}   `json:"data,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// wsRequest asks for one trace's report sections.
type wsRequest struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id,omitempty"`
}

// wsClient is one active trace-stream connection with its send pump.
// done is closed by the read pump when the connection dies, releasing the
// write pump and any in-flight streams.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan wsMessage
	done   chan struct{}
}

// handleTraceStream upgrades the connection and runs the read/write pumps.
// Each JSON request frame on the socket triggers a streamed report: status,
// enrichment, topology, anomalies, complete.
func (s *Server) handleTraceStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			s.logger.Error("failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		s.logger.Info("trace stream connected", zap.String("remote_addr", r.RemoteAddr))

		client := &wsClient{
			server: s,
			conn:   conn,
			send:   make(chan wsMessage, sendChannelSize),
			done:   make(chan struct{}),
		}
		go client.writePump()
		client.readPump(r.Context())

		s.logger.Debug("trace stream handler finished", zap.String("remote_addr", r.RemoteAddr))
	}
}

// readPump reads request frames and keeps the connection responsive to
// control messages. It blocks until the connection closes.
func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.server.logger.Error("failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("trace stream closed unexpectedly", zap.Error(err))
			} else {
				c.server.logger.Info("trace stream closed")
			}
			return
		}

		if req.TraceID == "" {
			c.sendError(req.RequestID, "request requires trace_id")
			continue
		}
		// Stream asynchronously so the read loop stays responsive to
		// pongs and close frames.
		go c.streamTrace(ctx, req)
	}
}

// writePump serializes all writes to the connection and emits periodic
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.server.logger.Error("failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Error("error writing trace stream frame", zap.Error(err))
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.server.logger.Error("failed to set write deadline for ping", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamTrace runs the pipeline for one request and queues the report
// sections in order.
func (c *wsClient) streamTrace(ctx context.Context, req wsRequest) {
	c.sendMessage(msgTypeStatus, req.RequestID, map[string]string{
		"trace_id": req.TraceID,
		"status":   "analyzing",
	})

	report, err := c.server.analyzer.Enrich(ctx, req.TraceID)
	if err != nil {
		c.sendError(req.RequestID, err.Error())
		return
	}
	c.sendMessage(msgTypeEnrichment, req.RequestID, report)

	graph, mermaid, err := c.server.analyzer.Topology(ctx, req.TraceID)
	if err != nil {
		c.sendError(req.RequestID, err.Error())
		return
	}
	c.sendMessage(msgTypeTopology, req.RequestID, map[string]interface{}{
		"graph":   graph,
		"mermaid": mermaid,
	})

	anomalies, err := c.server.analyzer.Anomalies(ctx, req.TraceID)
	if err != nil {
		c.sendError(req.RequestID, err.Error())
		return
	}
	c.sendMessage(msgTypeAnomalies, req.RequestID, anomalies)

	c.sendMessage(msgTypeComplete, req.RequestID, map[string]string{
		"trace_id": req.TraceID,
	})
}

// sendMessage queues a frame without blocking the pipeline; a full buffer
// means the client is dead or too slow and the frame is dropped.
func (c *wsClient) sendMessage(msgType wsMessageType, requestID string, data interface{}) {
	msg := wsMessage{
		Type:      msgType,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case c.send <- msg:
	case <-c.done:
		// Connection already gone.
	default:
		c.server.logger.Error("trace stream send buffer full, dropping frame",
			zap.String("request_id", requestID), zap.String("type", string(msgType)))
	}
}

func (c *wsClient) sendError(requestID string, message string) {
	c.sendMessage(msgTypeStreamError, requestID, map[string]string{"error": message})
}
