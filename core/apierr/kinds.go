package apierr

import "net/http"

// Kinds maps error names to HTTP statuses.
type Kinds map[string]int

// DefaultKinds returns the built-in taxonomy.
func DefaultKinds() Kinds {
	return Kinds{
		"invalid":       http.StatusBadRequest,
		"required":      http.StatusBadRequest,
		"min":           http.StatusBadRequest,
		"max":           http.StatusBadRequest,
		"unauthorized":  http.StatusUnauthorized,
		"forbidden":     http.StatusForbidden,
		"notfound":      http.StatusNotFound,
		"conflict":      http.StatusConflict,
		"locked":        http.StatusLocked,
		"unprocessable": http.StatusUnprocessableEntity,
		"unimplemented": http.StatusNotImplemented,
		"error":         http.StatusInternalServerError,
	}
}

// StatusFor returns the status mapped to name.
func (k Kinds) StatusFor(name string) (int, bool) {
	status, ok := k[name]
	return status, ok
}

// With returns a copy of k extended by extra. Entries in extra win.
func (k Kinds) With(extra map[string]int) Kinds {
	out := make(Kinds, len(k)+len(extra))
	for name, status := range k {
		out[name] = status
	}
	for name, status := range extra {
		out[name] = status
	}
	return out
}
