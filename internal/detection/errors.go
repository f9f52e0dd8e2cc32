package detection

import (
	"errors"
	"fmt"
)

// Kind identifies one class of pipeline failure. Kinds are mutually
// exclusive: classification of a given transport error or upstream
// status is a pure function and always yields the same kind.
type Kind string

const (
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindBudgetExceeded      Kind = "budget_exceeded"
	KindSourceRateLimited   Kind = "source_rate_limited"
	KindCircuitOpen         Kind = "circuit_open"
	KindConfigError         Kind = "config_error"
	KindTimeout             Kind = "timeout"
	KindUnreachable         Kind = "unreachable"
	KindAuthError           Kind = "auth_error"
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamRateLimited Kind = "upstream_rate_limited"
	KindUpstreamError       Kind = "upstream_error"
	KindNetworkError        Kind = "network_error"
)

// Error is a classified pipeline failure. Status is only set for
// upstream HTTP errors.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from a classified error chain.
// Unclassified errors report as NetworkError.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindNetworkError
}

// UserMessage maps a failure kind to a response-safe message. Upstream
// error bodies, addresses, and credentials never reach callers.
func UserMessage(kind Kind) string {
	switch kind {
	case KindCapacityExceeded:
		return "the service is handling too many detections right now, please retry shortly"
	case KindBudgetExceeded:
		return "the daily detection budget has been reached, please try again tomorrow"
	case KindSourceRateLimited:
		return "too many requests from this source, please slow down"
	case KindCircuitOpen:
		return "the detection service is temporarily unavailable"
	case KindConfigError:
		return "the detection service is misconfigured"
	case KindTimeout:
		return "the detection request timed out"
	case KindUnreachable:
		return "the detection service could not be reached"
	case KindAuthError:
		return "the detection service could not authenticate with its model provider"
	case KindInvalidInput:
		return "the uploaded image was rejected by the model provider"
	case KindUpstreamRateLimited:
		return "the model provider is rate limiting requests, please retry shortly"
	case KindUpstreamError:
		return "the model provider returned an unexpected error"
	default:
		return "an unexpected network error occurred"
	}
}
