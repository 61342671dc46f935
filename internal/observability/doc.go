// Package observability builds the gateway's logger, tracer provider and
// metric instruments, and carries request ids through contexts.
package observability
