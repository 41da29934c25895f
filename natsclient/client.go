package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the circuit breaker rejects calls.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client manages one NATS connection with a circuit breaker.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Circuit breaker
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Int64 // time.Duration
	maxBackoff       time.Duration
	lastFailure      atomic.Value // time.Time

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	connectRetry  retry.Config

	username   string
	password   string
	token      string
	clientName string
	tlsConfig  *tls.Config

	metrics      *metric.Metrics
	onDisconnect func(error)
	onReconnect  func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
		connectRetry:     retry.Config{MaxAttempts: 1},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))
	c.lastFailure.Store(time.Time{})
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	return m.status.Load().(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.metrics != nil {
		m.metrics.RecordNATSStatus(status == StatusConnected)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current circuit backoff
func (m *Client) Backoff() time.Duration {
	return time.Duration(m.backoff.Load())
}

// recordFailure counts a failure and opens the circuit at the threshold.
func (m *Client) recordFailure() {
	m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	if m.circuitFailures.Add(1) < m.circuitThreshold {
		return
	}
	m.circuitFailures.Store(0)

	current := m.Backoff()
	next := min(current*2, m.maxBackoff)
	m.backoff.Store(int64(next))

	status := m.Status()
	if status == StatusCircuitOpen {
		m.logger.Warn("Circuit breaker still open", "backoff", next)
		return
	}
	if m.status.CompareAndSwap(status, StatusCircuitOpen) {
		m.logger.Warn("Circuit breaker opened", "failures", m.failures.Load(), "backoff", current)
		time.AfterFunc(current, m.testCircuit)
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(int64(time.Second))
	m.lastFailure.Store(time.Time{})
	m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
}

// testCircuit half-opens the circuit so the next Connect may try again.
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.logger.Debug("Circuit breaker half-open")
	}
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

func (m *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}
	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}
	return opts
}

// Connect establishes the connection, retrying per the configured policy.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapInvalid(fmt.Errorf("client is closed"), "Client", "Connect", "check client state")
	}

	err := retry.Do(ctx, m.connectRetry, func() error {
		if m.Status() == StatusCircuitOpen {
			return retry.NonRetryable(ErrCircuitOpen)
		}
		m.setStatus(StatusConnecting)

		conn, err := nats.Connect(m.url, m.connectionOptions()...)
		if err != nil {
			m.recordFailure()
			if m.Status() != StatusCircuitOpen {
				m.setStatus(StatusDisconnected)
			}
			m.logger.Debug("NATS connect attempt failed", "url", m.url, "error", err)
			return err
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			m.recordFailure()
			return err
		}

		m.mu.Lock()
		m.conn = conn
		m.js = js
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		if stderrors.Is(err, ErrCircuitOpen) {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNotConnected, err), "Client", "Connect", "establish connection")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)
	return nil
}

// Close drains and closes the connection. It is safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	m.subs = nil

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := m.conn
		go func() { drainDone <- conn.Drain() }()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain connection"))
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username, m.password, m.token = "", "", ""
	m.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

// RTT returns the round-trip time to the server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNotConnected
	}
	return conn.RTT()
}

func (m *Client) connection() (*nats.Conn, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrNotConnected
	}
	return conn, nil
}

// Publish publishes a message to a core NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	return nil
}

// Subscribe registers handler for subject. Each message gets a context
// derived from ctx with a 30 second deadline.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe")
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

// Flush round-trips to the server so prior publishes have been processed.
func (m *Client) Flush(ctx context.Context) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	return conn.FlushWithContext(ctx)
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	if _, err := m.connection(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.js == nil {
		return nil, errors.WrapTransient(fmt.Errorf("JetStream not initialized"), "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// EnsureStream creates the stream or updates it to cfg.
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("create stream %s", cfg.Name))
	}
	m.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a subject captured by a JetStream stream and
// waits for the acknowledgement.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish message")
	}
	m.resetCircuit()
	return nil
}

// KeyValue gets the bucket named in cfg, creating it when missing.
func (m *Client) KeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "KeyValue", fmt.Sprintf("open bucket %s", cfg.Bucket))
	}
	m.logger.Debug("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)
	if m.onDisconnect != nil {
		go m.onDisconnect(err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	if m.metrics != nil {
		m.metrics.RecordNATSReconnect()
	}
	m.logger.Info("NATS reconnected", "url", m.url)
	if m.onReconnect != nil {
		go m.onReconnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}

// ObjectStore gets the object store bucket named in cfg, creating it when missing.
func (m *Client) ObjectStore(ctx context.Context, cfg jetstream.ObjectStoreConfig) (jetstream.ObjectStore, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.ObjectStore(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}

	bucket, err := js.CreateObjectStore(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		bucket, err = js.ObjectStore(ctx, cfg.Bucket)
	}
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "ObjectStore", fmt.Sprintf("open object store %s", cfg.Bucket))
	}
	m.logger.Debug("Created object store", "bucket", cfg.Bucket)
	return bucket, nil
}

// isAlreadyExistsError checks if an error indicates a bucket or stream already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "already in use") || strings.Contains(s, "already exists")
}
