// Package health aggregates component health into the /health response.
//
// A Status is healthy, degraded or unhealthy. Components report a
// component.HealthStatus; FromComponentHealth maps it to a Status, treating
// a running component that recorded an error as degraded. A Monitor keeps
// the latest Status per component and Aggregate folds them into one system
// status: any unhealthy component makes the system unhealthy, otherwise any
// degraded one makes it degraded.
//
//	monitor := health.NewMonitor()
//	server := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithHealthHandler(health.Handler("bcistream", monitor, manager)))
//
// Handler refreshes the monitor from its reporters on every request and
// answers 503 while the system is unhealthy.
//
// Error text is sanitized before it is exposed: URLs, paths, addresses,
// ports and credential-looking pairs are replaced with placeholders.
package health
