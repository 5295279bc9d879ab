package faults

import "net/http"

// StatusTable maps error kinds (and code overrides) to transport
// status codes. It is built explicitly at startup and handed to the
// middleware rather than living as hidden package state.
type StatusTable struct {
	kinds map[Kind]int
	codes map[string]int
}

// DefaultStatusTable returns the standard mapping: validation→400,
// security→403, not-found→404, oversize payload→413, everything
// else→500.
func DefaultStatusTable() StatusTable {
	return StatusTable{
		kinds: map[Kind]int{
			KindValidation:    http.StatusBadRequest,
			KindSecurity:      http.StatusForbidden,
			KindNetwork:       http.StatusInternalServerError,
			KindConfiguration: http.StatusInternalServerError,
			KindProcessing:    http.StatusInternalServerError,
			KindUnknown:       http.StatusInternalServerError,
		},
		codes: map[string]int{
			CodeNotFound:        http.StatusNotFound,
			CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
		},
	}
}

// StatusFor resolves the transport status for a record. Code-level
// overrides win over the kind mapping.
func (t StatusTable) StatusFor(r *Record) int {
	if status, ok := t.codes[r.Code]; ok {
		return status
	}
	if status, ok := t.kinds[r.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
