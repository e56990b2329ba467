// Package toolapi implements the tool surface: the set of
// operations an integration point calls against Skillsmith, each
// wrapped in the uniform response envelope and numbered error taxonomy
// this surface requires. The transport that delivers these calls stays
// separate; internal/api puts a thin stdlib net/http
// front end on top of this package, shaped like a
// internal/api/server.go.
package toolapi

import "github.com/skillsmith/skillsmith/internal/ratelimit"

// Envelope is the uniform shape every tool operation returns.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    *ErrorInfo     `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorInfo is the uniform error shape.
type ErrorInfo struct {
	Code                Code           `json:"code"`
	Message             string         `json:"message"`
	Details             map[string]any `json:"details,omitempty"`
	RecoverySuggestions []string       `json:"recovery_suggestions,omitempty"`
}

func ok(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

func okWithMeta(data any, meta map[string]any) Envelope {
	return Envelope{Success: true, Data: data, Metadata: meta}
}

func fail(code Code, message string) Envelope {
	return Envelope{Success: false, Error: &ErrorInfo{Code: code, Message: message}}
}

func failWith(code Code, message string, details map[string]any, recovery ...string) Envelope {
	return Envelope{Success: false, Error: &ErrorInfo{
		Code: code, Message: message, Details: details, RecoverySuggestions: recovery,
	}}
}

// withQueueMeta records that a rate-limited operation had to sit in the
// per-key FIFO wait queue before being admitted, surfacing the same
// {queued, queue_wait_ms} pair the rate limiter tracks internally.
func withQueueMeta(env Envelope, result ratelimit.Result) Envelope {
	if !result.Queued {
		return env
	}
	meta := env.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["queued"] = true
	meta["queue_wait_ms"] = result.QueueWaitMS
	env.Metadata = meta
	return env
}
