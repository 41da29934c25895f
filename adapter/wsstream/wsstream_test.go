package wsstream

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/codec"
	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/pkg/security"
	"github.com/c360/bcistream/sample"
)

// bridge is a test server that hands each accepted connection to serve.
func bridge(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func send(t *testing.T, conn *websocket.Conn, format codec.Format, ev adapter.Event) {
	t.Helper()
	data, err := Encode(codec.For(format), ev)
	require.NoError(t, err)
	kind := websocket.TextMessage
	if format == codec.CBOR {
		kind = websocket.BinaryMessage
	}
	require.NoError(t, conn.WriteMessage(kind, data))
}

// holdOpen keeps the server side alive until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a, err := New(Deps{Config: Config{URL: url}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.StopStream() })
	return a
}

func pollUntil(t *testing.T, a *Adapter, n int) []adapter.Event {
	t.Helper()
	var events []adapter.Event
	deadline := time.Now().Add(2 * time.Second)
	for len(events) < n && time.Now().Before(deadline) {
		got, err := a.PollEvents(context.Background(), 100*time.Millisecond)
		require.NoError(t, err)
		events = append(events, got...)
	}
	require.Len(t, events, n)
	return events
}

func TestEnvelope_RoundTrip(t *testing.T) {
	frame := adapter.SignalFrame{Samples: []sample.Sample{
		sample.Layout{EEG: 1, EDA: 1}.Split(7, []float32{1, 2}),
	}}
	events := []adapter.Event{
		adapter.Connected{DeviceID: "hs"},
		adapter.Disconnected{Reason: "battery"},
		frame,
		adapter.ErrorEvent{Message: "lead off"},
	}
	for _, f := range []codec.Format{codec.JSON, codec.CBOR} {
		for _, ev := range events {
			data, err := Encode(codec.For(f), ev)
			require.NoError(t, err)
			got, err := Decode(codec.For(f), data)
			require.NoError(t, err)
			assert.Equal(t, ev.Kind(), got.Kind(), "%s %s", f, ev.Kind())
		}
	}

	_, err := Decode(codec.For(codec.JSON), []byte(`{"type":"telemetry"}`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestAdapter_StreamsJSONAndCBOR(t *testing.T) {
	layout := sample.Layout{EEG: 2, EMG: 1}
	url := bridge(t, func(conn *websocket.Conn) {
		send(t, conn, codec.JSON, adapter.Connected{DeviceID: "hs-7"})
		send(t, conn, codec.CBOR, adapter.SignalFrame{Samples: []sample.Sample{
			layout.Split(100, []float32{1, 2, 3}),
			layout.Split(200, []float32{4, 5, 6}),
		}})
		send(t, conn, codec.JSON, adapter.ErrorEvent{Message: "impedance high"})
		holdOpen(conn)
	})
	a := newAdapter(t, url)
	require.NoError(t, a.StartStream(context.Background()))
	require.NoError(t, a.StartStream(context.Background()))

	events := pollUntil(t, a, 3)
	assert.Equal(t, adapter.Connected{DeviceID: "hs-7"}, events[0])
	frame, ok := events[1].(adapter.SignalFrame)
	require.True(t, ok)
	require.Len(t, frame.Samples, 2)
	assert.Equal(t, uint64(200), frame.Samples[1].Timestamp)
	assert.Equal(t, []float32{4, 5}, frame.Samples[1].EEG)
	assert.Equal(t, adapter.ErrorEvent{Message: "impedance high"}, events[2])
}

func TestAdapter_UndecodableMessage(t *testing.T) {
	url := bridge(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		holdOpen(conn)
	})
	a := newAdapter(t, url)
	require.NoError(t, a.StartStream(context.Background()))

	events := pollUntil(t, a, 1)
	ev, ok := events[0].(adapter.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "decode")
}

func TestAdapter_StopDuringPoll(t *testing.T) {
	url := bridge(t, holdOpen)
	a := newAdapter(t, url)
	require.NoError(t, a.StartStream(context.Background()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = a.StopStream()
	}()

	start := time.Now()
	events, err := a.PollEvents(context.Background(), 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Event{adapter.Disconnected{Reason: "stream stopped"}}, events)

	_, err = a.PollEvents(context.Background(), time.Second)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
}

func TestAdapter_ConnectionLost(t *testing.T) {
	url := bridge(t, func(conn *websocket.Conn) {
		send(t, conn, codec.JSON, adapter.Connected{DeviceID: "hs"})
		// Returning drops the TCP connection without a close frame.
	})
	a := newAdapter(t, url)
	require.NoError(t, a.StartStream(context.Background()))

	var events []adapter.Event
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		var got []adapter.Event
		got, err = a.PollEvents(context.Background(), 100*time.Millisecond)
		events = append(events, got...)
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.True(t, errors.IsTransient(err))
	require.Len(t, events, 2)
	assert.IsType(t, adapter.Disconnected{}, events[1])
}

func TestAdapter_CleanCloseIsNotAFailure(t *testing.T) {
	url := bridge(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session over"))
		holdOpen(conn)
	})
	a := newAdapter(t, url)
	require.NoError(t, a.StartStream(context.Background()))

	events := pollUntil(t, a, 1)
	d, ok := events[0].(adapter.Disconnected)
	require.True(t, ok)
	assert.Contains(t, d.Reason, "session over")

	_, err := a.PollEvents(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
}

func TestAdapter_DialFailure(t *testing.T) {
	a := newAdapter(t, "ws://127.0.0.1:1/none")
	err := a.StartStream(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	_, err = a.PollEvents(context.Background(), 0)
	assert.ErrorIs(t, err, errors.ErrAdapterStopped)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, Config{URL: "ws://x", ReadTimeout: -1}.Validate(), errors.ErrInvalidConfig)
	assert.NoError(t, Config{URL: "ws://x"}.Validate())
	assert.ErrorIs(t, Config{URL: "wss://x", TLS: security.ClientTLSConfig{MinVersion: "1.1"}}.Validate(),
		errors.ErrInvalidConfig)
}

func TestAdapter_SecureBridge(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		send(t, conn, codec.JSON, adapter.Connected{DeviceID: "secure"})
		holdOpen(conn)
	}))
	t.Cleanup(server.Close)
	url := "wss" + strings.TrimPrefix(server.URL, "https")

	caFile := filepath.Join(t.TempDir(), "bridge.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw}
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(block), 0o600))

	t.Run("trusted CA", func(t *testing.T) {
		a, err := New(Deps{Config: Config{URL: url, TLS: security.ClientTLSConfig{CAFiles: []string{caFile}}}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.StopStream() })
		require.NoError(t, a.StartStream(context.Background()))
		events := pollUntil(t, a, 1)
		assert.Equal(t, adapter.Connected{DeviceID: "secure"}, events[0])
	})

	t.Run("untrusted", func(t *testing.T) {
		a := newAdapter(t, url)
		err := a.StartStream(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrNotConnected)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := New(Deps{Config: Config{URL: url, TLS: security.ClientTLSConfig{CAFiles: []string{"/nonexistent.pem"}}}})
		assert.Error(t, err)
	})
}
