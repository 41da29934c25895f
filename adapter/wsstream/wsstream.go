// Package wsstream is a websocket client adapter for a headset bridge.
//
// The bridge pushes Envelope messages: JSON in text frames, CBOR in binary
// frames. Each message becomes one adapter event. The adapter never
// reconnects; a dropped connection is reported as a Disconnected event
// followed by ErrConnectionLost from PollEvents until the caller restarts it.
package wsstream

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/adapter/eventqueue"
	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/pkg/security"
	"github.com/c360/bcistream/pkg/tlsutil"
)

// Config configures the bridge connection.
type Config struct {
	URL              string            `json:"url" yaml:"url"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	HandshakeTimeout time.Duration     `json:"handshake_timeout" yaml:"handshake_timeout"`
	// ReadTimeout bounds the silence between messages; zero disables it.
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout"`
	QueueCapacity int           `json:"queue_capacity" yaml:"queue_capacity"`
	// TLS applies to wss:// bridges.
	TLS security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "wsstream.Config", "Validate", "url is required")
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "wsstream.Config", "Validate", "timeouts must not be negative")
	}
	return c.TLS.Validate()
}

// Deps holds runtime dependencies for the websocket adapter.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Adapter streams events from a bridge.
type Adapter struct {
	cfg      Config
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	jsonc    codec.Codec
	cborc    codec.Codec
	tls      *tls.Config

	mu      sync.Mutex
	conn    *websocket.Conn
	queue   *eventqueue.Queue
	done    chan struct{}
	stopped chan struct{}
	running bool
	failure error
	starts  int

	messages     atomic.Uint64
	decodeErrors atomic.Uint64
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Named   = (*Adapter)(nil)
)

// New returns a disconnected adapter.
func New(deps Deps) (*Adapter, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Config.HandshakeTimeout == 0 {
		deps.Config.HandshakeTimeout = 10 * time.Second
	}
	var tlsConfig *tls.Config
	if deps.Config.TLS.Configured() {
		var err error
		if tlsConfig, err = tlsutil.ClientConfig(deps.Config.TLS); err != nil {
			return nil, err
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:      deps.Config,
		tls:      tlsConfig,
		registry: deps.MetricsRegistry,
		logger:   logger.With("component", "ws-adapter", "url", deps.Config.URL),
		jsonc:    codec.For(codec.JSON),
		cborc:    codec.For(codec.CBOR),
	}, nil
}

// Name implements adapter.Named.
func (a *Adapter) Name() string { return "wsstream" }

// StartStream dials the bridge. It is a no-op while connected.
func (a *Adapter) StartStream(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	header := http.Header{}
	for k, v := range a.cfg.Headers {
		header.Set(k, v)
	}
	dialer := &websocket.Dialer{HandshakeTimeout: a.cfg.HandshakeTimeout, TLSClientConfig: a.tls}
	conn, resp, err := dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNotConnected, err), "wsstream", "StartStream", "dial bridge")
	}

	var registry *metric.MetricsRegistry
	if a.starts == 0 {
		registry = a.registry
	}
	q, err := eventqueue.New(a.cfg.QueueCapacity, registry, "wsstream_events")
	if err != nil {
		_ = conn.Close()
		return errors.WrapFatal(err, "wsstream", "StartStream", "create event queue")
	}

	a.conn = conn
	a.queue = q
	a.done = make(chan struct{})
	a.stopped = make(chan struct{})
	a.running = true
	a.failure = nil
	a.starts++

	go a.readLoop(conn, q, a.stopped, a.done)

	a.logger.Info("Connected to bridge")
	return nil
}

// StopStream closes the connection and wakes any waiting poll.
func (a *Adapter) StopStream() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	conn, q, done, stopped := a.conn, a.queue, a.done, a.stopped
	a.conn = nil
	a.mu.Unlock()

	close(stopped)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream stopped"), deadline)
	err := conn.Close()
	<-done

	_ = q.Push(adapter.Disconnected{Reason: "stream stopped"})
	q.Close()

	a.logger.Info("Disconnected from bridge",
		"messages", a.messages.Load(), "decode_errors", a.decodeErrors.Load())
	if err != nil && !stderrors.Is(err, websocket.ErrCloseSent) {
		return errors.Wrap(err, "wsstream", "StopStream", "close connection")
	}
	return nil
}

// PollEvents drains events read from the bridge. After a dropped connection
// it returns ErrConnectionLost once the queue is empty.
func (a *Adapter) PollEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()
	if q == nil {
		return nil, errors.ErrAdapterStopped
	}

	events, err := q.Wait(ctx, timeout)
	if stderrors.Is(err, errors.ErrAdapterStopped) {
		a.mu.Lock()
		failure := a.failure
		a.mu.Unlock()
		if failure != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, failure),
				"wsstream", "PollEvents", "read bridge")
		}
	}
	return events, err
}

func (a *Adapter) readLoop(conn *websocket.Conn, q *eventqueue.Queue, stopped <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		if a.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopped:
				return
			default:
			}
			a.fail(conn, q, err)
			return
		}
		a.messages.Add(1)

		c := a.jsonc
		if kind == websocket.BinaryMessage {
			c = a.cborc
		}
		ev, err := Decode(c, data)
		if err != nil {
			a.decodeErrors.Add(1)
			a.logger.Warn("Dropping undecodable bridge message", "error", err, "bytes", len(data))
			ev = adapter.ErrorEvent{Message: "decode: " + err.Error()}
		}
		if err := q.Push(ev); err != nil {
			return
		}
	}
}

// fail ends the run after a read error. A normal close from the bridge only
// disconnects; anything else is kept as the failure reported by PollEvents.
func (a *Adapter) fail(conn *websocket.Conn, q *eventqueue.Queue, err error) {
	reason := err.Error()
	var closeErr *websocket.CloseError
	if stderrors.As(err, &closeErr) {
		reason = fmt.Sprintf("bridge closed connection (%d %s)", closeErr.Code, closeErr.Text)
	}
	a.logger.Warn("Bridge connection lost", "error", err)

	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	a.mu.Lock()
	if a.conn == conn {
		if !clean {
			a.failure = err
		}
		a.running = false
		a.conn = nil
	}
	a.mu.Unlock()

	_ = conn.Close()
	_ = q.Push(adapter.Disconnected{Reason: reason})
	q.Close()
}
