package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated health of m as JSON, syncing m from every
// reporter first. An unhealthy system answers 503.
func Handler(system string, m *Monitor, reporters ...Reporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for _, r := range reporters {
			m.Sync(r)
		}
		status := m.AggregateHealth(system)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
