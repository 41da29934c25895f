package health

import (
	"cmp"
	"slices"
	"time"
)

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == statusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, statusHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, statusUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, statusDegraded, message)
}

// Aggregate folds sub-statuses into one. Any unhealthy sub-status makes the
// result unhealthy; otherwise any degraded one makes it degraded. Sub-statuses
// are kept sorted by component name.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No components registered")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "One or more components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "One or more components are degraded")
	default:
		status = NewHealthy(component, "All components are healthy")
	}

	status.SubStatuses = slices.Clone(subStatuses)
	slices.SortFunc(status.SubStatuses, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return status
}
