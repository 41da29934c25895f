// Package natsclient wraps a NATS connection for the metrics publisher.
//
// The client adds a circuit breaker and a retry policy for the initial
// connection to the standard nats.go client, and exposes the few JetStream
// calls the pipeline needs: creating a stream, publishing with acknowledgement
// and opening a key-value bucket.
//
// # Lifecycle
//
// A client moves through Disconnected, Connecting, Connected and Reconnecting.
// After a threshold of consecutive failures (default 5) the circuit opens and
// calls fail fast with ErrCircuitOpen until the backoff elapses.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithConnectRetry(retry.Quick()),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "bci.metrics.session-id", payload)
//
// # JetStream
//
//	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "BCI_METRICS",
//	    Subjects: []string{"bci.metrics.>"},
//	})
//	err = client.PublishToStream(ctx, "bci.metrics.session-id", payload)
//
//	kv, err := client.KeyValue(ctx, jetstream.KeyValueConfig{Bucket: "bci_latest"})
//
// Close drains the connection, bounded by the drain timeout or the context
// deadline, whichever is shorter, and clears stored credentials.
package natsclient
