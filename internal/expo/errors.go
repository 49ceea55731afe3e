package expo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind classifies a whole-batch gateway failure for diagnostics stored
// on the affected ledger rows.
type FailureKind string

const (
	// FailureServer means the gateway rejected the entire call.
	FailureServer FailureKind = "server_error"
	// FailureNetwork means the call never completed (DNS, dial, timeout).
	FailureNetwork FailureKind = "network_error"
	// FailureUnknown covers everything else.
	FailureUnknown FailureKind = "unknown_error"
)

// GatewayError is a whole-batch failure: the call itself was rejected or
// never completed, so no per-message tickets or receipts exist.
type GatewayError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("expo gateway error (%s)", e.Kind))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyFailure maps an error from a gateway call to its failure kind.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureNetwork
	}

	return FailureUnknown
}
