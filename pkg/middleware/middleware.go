// Package middleware provides composable resilience decorators over a
// backend.Backend: throttling, retry with exponential backoff, circuit
// breaking, timeout enforcement, and structured logging. Each wrapper is a
// concrete type holding the inner backend and satisfying the same contract,
// so stacks compose in any caller-chosen order.
package middleware

import (
	"github.com/tessellate-ai/refine/pkg/backend"
)

// Middleware transforms a Backend into an enhanced Backend.
type Middleware func(backend.Backend) backend.Backend

// Chain wraps a backend with middleware. Middleware execute in the order
// provided, with the first middleware outermost; failures propagate back up
// the stack innermost-first.
func Chain(b backend.Backend, middlewares ...Middleware) backend.Backend {
	for i := len(middlewares) - 1; i >= 0; i-- {
		b = middlewares[i](b)
	}
	return b
}

// providerName resolves the provider identifier of the innermost backend for
// log fields and breaker diagnostics. Wrappers forward the identifier of
// whatever they decorate.
func providerName(b backend.Backend) string {
	if p, ok := b.(backend.Provider); ok {
		return p.Provider()
	}
	return "unknown"
}
