// Package component defines the lifecycle and introspection contract shared
// by the long-running parts of bcistream.
//
// # Lifecycle
//
// A LifecycleComponent follows one pattern:
//
//	Initialize() error                 // setup only, no context
//	Start(ctx context.Context) error   // begin work; ctx bounds the run
//	Stop(timeout time.Duration) error  // graceful shutdown within timeout
//
// Components never store the context passed to Start. The Manager creates
// a child context per component so one component can be cancelled without
// the others, starts components in registration order and stops them in
// reverse.
//
//	m := component.NewManager(logger)
//	if err := m.Add("sampler", svc); err != nil {
//	    return err
//	}
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop(10 * time.Second)
//
// # Introspection
//
// Every component reports Metadata, a HealthStatus and FlowMetrics. The
// health package turns HealthStatus into the /health response.
package component
