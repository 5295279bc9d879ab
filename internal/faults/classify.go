package faults

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// StatusError carries an HTTP status that surfaced from a downstream
// call and needs to be folded into the taxonomy.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// networkPatterns are substrings that re-parse a plain error message
// into a network record. Best effort only; no match falls through.
var networkPatterns = []string{
	"no such host",
	"connection refused",
	"connection reset",
	"timed out",
	"timeout",
	"tls handshake",
	"broken pipe",
	"unexpected EOF",
	"dns",
	"ERR_NAME_NOT_RESOLVED",
	"ERR_CONNECTION",
}

// Classify converts any error into a Record. The dispatch order is
// fixed: already-classified record, network, HTTP status, string
// heuristic, unknown. Adding a kind means adding an arm here, never an
// implicit fallback. Classify itself never fails.
func Classify(err error, operation string) *Record {
	if err == nil {
		return NewUnknown("classify called with nil error")
	}

	var rec *Record
	if errors.As(err, &rec) {
		if rec.Operation == "" {
			cp := *rec
			cp.Operation = operation
			return &cp
		}
		return rec
	}

	if r := classifyNetwork(err, operation); r != nil {
		return r
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr, operation)
	}

	var jsonErr *json.UnsupportedValueError
	if errors.As(err, &jsonErr) {
		return NewProcessing("serialization", "json",
			"Remove or convert the unsupported value before encoding", err.Error())
	}
	var jsonTypeErr *json.UnsupportedTypeError
	if errors.As(err, &jsonTypeErr) {
		return NewProcessing("serialization", jsonTypeErr.Type.String(),
			"Convert the value to a JSON-encodable type", err.Error())
	}

	if r := classifyMessage(err.Error(), operation); r != nil {
		return r
	}

	u := NewUnknown(err.Error())
	u.Operation = operation
	return u
}

func classifyNetwork(err error, operation string) *Record {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetwork(operation, "timeout", err.Error())
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewNetwork(operation, "dns_failure", dnsErr.Error())
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		code := "request_failed"
		if urlErr.Timeout() {
			code = "timeout"
		}
		return NewNetwork(operation, code, urlErr.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		code := "connection_failed"
		if netErr.Timeout() {
			code = "timeout"
		}
		return NewNetwork(operation, code, netErr.Error())
	}
	return nil
}

func classifyStatus(err *StatusError, operation string) *Record {
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		return NewSecurity("access_denied", operation, "authorized requests", err.Message)
	case err.StatusCode == 404:
		r := NewNotFound("resource", operation)
		r.Message = err.Message
		return r
	case err.StatusCode == 413:
		r := NewValidation("payload", nil, "payload within the size limit", err.Message)
		r.Code = CodePayloadTooLarge
		return r
	case err.StatusCode >= 400 && err.StatusCode < 500:
		return NewValidation("request", nil, "a well-formed request", err.Message)
	case err.StatusCode >= 500:
		return NewNetwork(operation, fmt.Sprintf("upstream_%d", err.StatusCode), err.Message)
	default:
		u := NewUnknown(err.Message)
		u.Operation = operation
		return u
	}
}

func classifyMessage(msg, operation string) *Record {
	lower := strings.ToLower(msg)
	for _, pattern := range networkPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return NewNetwork(operation, "network_failure", msg)
		}
	}
	return nil
}

// safeValue returns v unchanged when the wire codec accepts it and a
// string rendering otherwise, so a Response marshal can never fail.
func safeValue(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
