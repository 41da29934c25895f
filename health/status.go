package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/bcistream/component"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == statusHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == statusDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == statusUnhealthy }

// sanitizeErrorMessage strips addresses, paths and credentials from err.
// URLs go first because they contain paths.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	s := urlRegex.ReplaceAllString(err, "[URL]")
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")

	lower := strings.ToLower(s)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(s, "[REDACTED]")
		}
	}
	return s
}

// FromComponentHealth converts a component.HealthStatus to a Status. A
// healthy component carrying a last error is reported as degraded.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var st Status
	switch {
	case !ch.Healthy:
		st = NewUnhealthy(name, "Component unhealthy")
	case ch.Degraded():
		st = NewDegraded(name, "Component recovering from errors")
	default:
		st = NewHealthy(name, "Component healthy")
	}
	if ch.LastError != "" {
		st.Message = sanitizeErrorMessage(ch.LastError)
	}
	st.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return st
}
