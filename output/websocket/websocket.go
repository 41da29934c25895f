// Package websocket serves a live feed of metrics records to websocket
// clients.
//
// Every connected client gets each record as one frame: a text frame for
// json, a binary frame for cbor. A client that falls behind loses its oldest
// queued frames instead of slowing the pipeline down. A newly connected
// client first receives the most recent record.
package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/component"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/output"
	"github.com/c360/bcistream/pkg/buffer"
	"github.com/c360/bcistream/pkg/security"
	"github.com/c360/bcistream/pkg/tlsutil"
	"github.com/c360/bcistream/quality"
)

// Config configures the feed server.
type Config struct {
	// Port 0 picks a free port; see Sink.Addr.
	Port   int    `json:"port" yaml:"port"`
	Path   string `json:"path" yaml:"path"`
	Format string `json:"format" yaml:"format"`
	// ClientBuffer is the number of frames queued per client before the
	// oldest are dropped.
	ClientBuffer   int           `json:"client_buffer" yaml:"client_buffer"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`

	TLS security.ServerTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// DefaultConfig returns a json feed on :8081/ws.
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		Path:         "/ws",
		Format:       string(codec.JSON),
		ClientBuffer: 64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Invalidf(errors.ErrInvalidConfig, "websocket.Config", "Validate",
			"port must be between 0 and 65535, got %d", c.Port)
	}
	if len(c.Path) == 0 || c.Path[0] != '/' {
		return errors.Invalidf(errors.ErrInvalidConfig, "websocket.Config", "Validate",
			"path must start with /, got %q", c.Path)
	}
	if _, err := codec.ParseFormat(c.Format); err != nil {
		return err
	}
	if c.ClientBuffer < 1 {
		return errors.Invalidf(errors.ErrInvalidConfig, "websocket.Config", "Validate",
			"client_buffer must be positive, got %d", c.ClientBuffer)
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "websocket.Config", "Validate",
			"write_timeout and ping_interval must be positive")
	}
	return c.TLS.Validate()
}

// Deps holds runtime dependencies for the feed.
type Deps struct {
	Config Config
	// MetricsRegistry is optional.
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Metrics holds Prometheus metrics for the feed.
type Metrics struct {
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	framesSent       prometheus.Counter
	framesDropped    prometheus.Counter
	bytesSent        prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bcistream", Subsystem: "websocket", Name: name, Help: help,
		})
	}
	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bcistream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected feed clients",
		}),
		connectionsTotal: counter("client_connections_total", "Total feed client connections"),
		framesSent:       counter("frames_sent_total", "Frames written to feed clients"),
		framesDropped:    counter("frames_dropped_total", "Frames dropped for slow feed clients"),
		bytesSent:        counter("bytes_sent_total", "Bytes written to feed clients"),
	}

	if err := registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	for name, c := range map[string]prometheus.Counter{
		"client_connections_total": m.connectionsTotal,
		"frames_sent_total":        m.framesSent,
		"frames_dropped_total":     m.framesDropped,
		"bytes_sent_total":         m.bytesSent,
	} {
		if err := registry.RegisterCounter("websocket", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// client is one connected websocket peer. Only its write loop writes data
// frames; control frames go through WriteControl, which gorilla allows
// concurrently.
type client struct {
	conn        *websocket.Conn
	queue       buffer.Buffer[[]byte]
	connectedAt time.Time
	closeOnce   sync.Once
}

// Sink is an output.MetricsSink that broadcasts records to websocket
// clients.
type Sink struct {
	cfg      Config
	codec    codec.Codec
	msgType  int
	tls      *tls.Config
	upgrader websocket.Upgrader
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	server   *http.Server
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup

	latest       atomic.Pointer[[]byte]
	startTime    time.Time
	published    atomic.Uint64
	framesSent   atomic.Uint64
	dropped      atomic.Uint64
	bytesSent    atomic.Uint64
	errorCount   atomic.Uint64
	lastActivity atomic.Int64 // unix nanoseconds
}

var (
	_ output.MetricsSink     = (*Sink)(nil)
	_ component.Discoverable = (*Sink)(nil)
)

// New validates deps and returns a sink that is not yet listening. Its
// handler can be mounted elsewhere, or Start opens the configured port.
func New(deps Deps) (*Sink, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.New(cfg.Format)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := tlsutil.ServerConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "websocket", "New", "register metrics")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	msgType := websocket.TextMessage
	if c.Format() == codec.CBOR {
		msgType = websocket.BinaryMessage
	}
	s := &Sink{
		cfg:       cfg,
		codec:     c,
		msgType:   msgType,
		tls:       tlsConfig,
		metrics:   metrics,
		logger:    logger.With("component", "websocket", "path", cfg.Path),
		clients:   make(map[*client]struct{}),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Name implements output.MetricsSink.
func (s *Sink) Name() string { return "websocket" }

// Handler returns a mux serving the feed on the configured path.
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	return mux
}

// Start listens on the configured port and serves the feed until Close.
func (s *Sink) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "websocket", "Start", "sink closed")
	}
	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket", "Start", "already listening")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.WrapFatal(err, "websocket", "Start", fmt.Sprintf("listen on port %d", s.cfg.Port))
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.errorCount.Add(1)
			s.logger.Error("Feed server failed", "error", err)
		}
	}()
	s.logger.Info("Feed server listening", "addr", ln.Addr().String(), "tls", s.tls != nil)
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Sink) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (s *Sink) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Sink) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Sink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.errorCount.Add(1)
		s.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	queue, err := s.newQueue()
	if err != nil {
		_ = conn.Close()
		s.errorCount.Add(1)
		return
	}
	c := &client{conn: conn, queue: queue, connectedAt: time.Now()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	if latest := s.latest.Load(); latest != nil {
		_ = queue.Write(*latest)
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("Feed client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	go s.readLoop(c)
	go s.writeLoop(c)
}

func (s *Sink) newQueue() (buffer.Buffer[[]byte], error) {
	return buffer.NewCircularBuffer[[]byte](s.cfg.ClientBuffer,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			s.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.framesDropped.Inc()
			}
		}),
	)
}

// readLoop consumes control frames so pongs are seen, and notices when the
// peer goes away.
func (s *Sink) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	deadline := 2 * s.cfg.PingInterval
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Sink) writeLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.queue.Done():
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			if err != nil {
				return
			}
		case <-c.queue.Ready():
			for _, frame := range c.queue.Drain() {
				_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(s.msgType, frame); err != nil {
					s.errorCount.Add(1)
					s.logger.Debug("Feed client write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
					return
				}
				s.framesSent.Add(1)
				s.bytesSent.Add(uint64(len(frame)))
				if s.metrics != nil {
					s.metrics.framesSent.Inc()
					s.metrics.bytesSent.Add(float64(len(frame)))
				}
			}
		}
	}
}

func (s *Sink) removeClient(c *client) {
	c.closeOnce.Do(func() {
		s.mu.Lock()
		delete(s.clients, c)
		count := len(s.clients)
		s.mu.Unlock()

		_ = c.queue.Close()
		_ = c.conn.Close()
		if s.metrics != nil {
			s.metrics.clientsConnected.Set(float64(count))
		}
		s.logger.Debug("Feed client disconnected",
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond), "clients", count)
	})
}

// PublishMetrics implements output.MetricsSink. It queues the record for
// every client and never waits on the network.
func (s *Sink) PublishMetrics(_ context.Context, m quality.SamplerMetrics) error {
	frame, err := s.codec.Marshal(m)
	if err != nil {
		return errors.WrapInvalid(err, "websocket", "PublishMetrics", "encode record")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "websocket", "PublishMetrics", "sink closed")
	}
	s.latest.Store(&frame)
	for c := range s.clients {
		_ = c.queue.Write(frame)
	}
	s.mu.Unlock()

	s.published.Add(1)
	s.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Close stops the server, says goodbye to every client and waits for their
// goroutines.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.server
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var shutdownErr error
	if server != nil {
		// Shutdown does not touch hijacked connections.
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "websocket", "Close", "shutdown server")
		}
	}

	goodbye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage, goodbye, time.Now().Add(time.Second))
		s.removeClient(c)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "websocket", "Close", "wait for client goroutines")
	}
	return shutdownErr
}

// Stats returns the records published, frames written and frames dropped.
func (s *Sink) Stats() (published, sent, dropped uint64) {
	return s.published.Load(), s.framesSent.Load(), s.dropped.Load()
}

// Meta implements component.Discoverable.
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        "websocket",
		Type:        "output",
		Description: "Live metrics feed on " + s.cfg.Path,
		Version:     "0.1.0",
	}
}

// Health implements component.Discoverable.
func (s *Sink) Health() component.HealthStatus {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return component.HealthStatus{
		Healthy:    !closed,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (s *Sink) DataFlow() component.FlowMetrics {
	var rate, bytesRate, dropRate float64
	if up := time.Since(s.startTime).Seconds(); up > 0 {
		rate = float64(s.framesSent.Load()) / up
		bytesRate = float64(s.bytesSent.Load()) / up
	}
	sent, dropped := s.framesSent.Load(), s.dropped.Load()
	if total := sent + dropped; total > 0 {
		dropRate = float64(dropped) / float64(total)
	}
	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: rate,
		BytesPerSecond:    bytesRate,
		ErrorRate:         dropRate,
		LastActivity:      last,
	}
}
