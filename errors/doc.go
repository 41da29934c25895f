// Package errors provides standardized error handling patterns for bcistream components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid (bad input
// or configuration, never retried) and Fatal (unrecoverable). Components make retry and
// drop decisions from the class instead of matching error strings.
//
// The acquisition pipeline maps its error taxonomy onto these classes:
//
//   - Configuration errors wrap ErrInvalidConfig and are rejected at construction.
//   - Transport errors wrap ErrTransport through WrapTransport. They are transient, and
//     the caller driving the pipeline owns any retry policy.
//   - Data errors (ErrChannelMismatch, ErrOutOfOrder) are invalid. The offending sample
//     is dropped and the current window continues.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Classification-aware wrappers:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//	errors.WrapTransport(err, "connector", "Start", "adapter start")
//
// Wrap() keeps the original classification.
//
// # Integration with errors.As/Is
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    logger.Warn("classified failure", "component", ce.Component, "class", ce.Class)
//	}
//
//	if errors.Is(err, errors.ErrTransport) {
//	    // adapter failed; decide whether to restart the stream
//	}
package errors
