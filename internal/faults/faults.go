// Package faults implements the closed failure taxonomy. Every error
// that reaches a service boundary is collapsed into a Record carrying
// one of six kinds plus kind-specific diagnostic details.
package faults

import (
	"fmt"

	"go.uber.org/zap"
)

// Kind is one member of the closed failure taxonomy.
type Kind string

// The six kinds. Anything unclassifiable lands in KindUnknown rather
// than being rejected.
const (
	KindNetwork       Kind = "network"
	KindValidation    Kind = "validation"
	KindSecurity      Kind = "security"
	KindConfiguration Kind = "configuration"
	KindProcessing    Kind = "processing"
	KindUnknown       Kind = "unknown"
)

// Default error codes per kind. Individual records may override the
// code (NOT_FOUND, PAYLOAD_TOO_LARGE) without leaving their kind.
const (
	CodeNetwork         = "NETWORK_ERROR"
	CodeValidation      = "VALIDATION_ERROR"
	CodeSecurity        = "SECURITY_VIOLATION"
	CodeConfiguration   = "CONFIGURATION_ERROR"
	CodeProcessing      = "PROCESSING_ERROR"
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

// Record is the canonical error record. It implements error so it can
// travel through ordinary error returns and be recovered by Classify.
type Record struct {
	Kind          Kind
	Code          string
	Message       string
	Operation     string
	CorrelationID string
	Details       map[string]any
	Suggestions   []string
}

// Error implements the error interface.
func (r *Record) Error() string {
	if r.Operation == "" {
		return fmt.Sprintf("%s: %s", r.Kind, r.Message)
	}
	return fmt.Sprintf("%s: %s: %s", r.Kind, r.Operation, r.Message)
}

// WithCorrelation returns a copy of the record stamped with the given
// correlation id.
func (r *Record) WithCorrelation(id string) *Record {
	cp := *r
	cp.CorrelationID = id
	return &cp
}

// NewNetwork builds a network-kind record.
func NewNetwork(operation, errorCode, message string) *Record {
	return &Record{
		Kind:      KindNetwork,
		Code:      CodeNetwork,
		Message:   message,
		Operation: operation,
		Details: map[string]any{
			"error_code": errorCode,
			"operation":  operation,
		},
		Suggestions: []string{
			"Check that the target host is reachable",
			"Retry the request after a short delay",
		},
	}
}

// NewValidation builds a validation-kind record.
func NewValidation(fieldName string, invalidValue any, expectedFormat, message string) *Record {
	return &Record{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]any{
			"field_name":      fieldName,
			"invalid_value":   invalidValue,
			"expected_format": expectedFormat,
		},
		Suggestions: []string{
			fmt.Sprintf("Provide %q in the expected format: %s", fieldName, expectedFormat),
		},
	}
}

// NewSecurity builds a security-kind record.
func NewSecurity(violationType, attemptedAction, allowedScope, message string) *Record {
	return &Record{
		Kind:    KindSecurity,
		Code:    CodeSecurity,
		Message: message,
		Details: map[string]any{
			"violation_type":   violationType,
			"attempted_action": attemptedAction,
			"allowed_scope":    allowedScope,
		},
		Suggestions: []string{
			fmt.Sprintf("Keep requests within the allowed scope: %s", allowedScope),
		},
	}
}

// NewConfiguration builds a configuration-kind record.
func NewConfiguration(configKey string, configValue any, suggestion, message string) *Record {
	return &Record{
		Kind:    KindConfiguration,
		Code:    CodeConfiguration,
		Message: message,
		Details: map[string]any{
			"config_key":   configKey,
			"config_value": configValue,
			"suggestion":   suggestion,
		},
		Suggestions: []string{suggestion},
	}
}

// NewProcessing builds a processing-kind record.
func NewProcessing(stage, dataType, recoverySuggestion, message string) *Record {
	return &Record{
		Kind:    KindProcessing,
		Code:    CodeProcessing,
		Message: message,
		Details: map[string]any{
			"processing_stage":    stage,
			"data_type":           dataType,
			"recovery_suggestion": recoverySuggestion,
		},
		Suggestions: []string{recoverySuggestion},
	}
}

// NewUnknown builds an unknown-kind record; the message is preserved
// verbatim.
func NewUnknown(message string) *Record {
	return &Record{
		Kind:    KindUnknown,
		Code:    CodeUnknown,
		Message: message,
		Details: map[string]any{},
	}
}

// NewNotFound builds a validation-shaped record with the NOT_FOUND
// code so the middleware maps it to 404.
func NewNotFound(resource, id string) *Record {
	r := NewValidation(resource, id, "existing identifier", fmt.Sprintf("%s %q not found", resource, id))
	r.Code = CodeNotFound
	return r
}

// Response is the wire form of a Record. Building one never fails:
// detail values that cannot be represented are sanitized first.
type Response struct {
	ErrorType     string         `json:"error_type"`
	ErrorCode     string         `json:"error_code"`
	ErrorMessage  string         `json:"error_message"`
	Details       map[string]any `json:"details"`
	CorrelationID string         `json:"correlation_id"`
	Suggestions   []string       `json:"suggestions"`
}

// ToResponse converts the record into its wire form.
func (r *Record) ToResponse() Response {
	details := make(map[string]any, len(r.Details))
	for k, v := range r.Details {
		details[k] = safeValue(v)
	}
	suggestions := r.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return Response{
		ErrorType:     string(r.Kind),
		ErrorCode:     r.Code,
		ErrorMessage:  r.Message,
		Details:       details,
		CorrelationID: r.CorrelationID,
		Suggestions:   suggestions,
	}
}

// Log writes the record to the logger. Calling it more than once for
// the same record is safe; it has no side effect beyond the log line.
func (r *Record) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	logger.Error("classified failure",
		zap.String("kind", string(r.Kind)),
		zap.String("code", r.Code),
		zap.String("message", r.Message),
		zap.String("operation", r.Operation),
		zap.String("correlation_id", r.CorrelationID),
		zap.Any("details", r.ToResponse().Details),
	)
}
