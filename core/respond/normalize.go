// Package respond turns handler results and errors into HTTP responses.
//
// Every error that reaches a client goes through Normalizer.Send. Errors
// whose name is in the taxonomy are exposed with their own message, data
// and mapped status. Anything else becomes a generic 500 and its details
// only reach the log.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/artpar/modhost/core/apierr"
	"github.com/rs/zerolog"
)

// GenericMessage is the only message an unknown error ever exposes.
const GenericMessage = "An error occurred."

// StatusMapper resolves an error name to an HTTP status.
type StatusMapper interface {
	StatusFor(name string) (int, bool)
}

// ErrorObserver is told about every normalized error.
type ErrorObserver interface {
	ObserveAPIError(name string, status int)
}

// Body is the client-visible error envelope.
type Body struct {
	Name    string         `json:"name"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message"`
}

// Entry is one normalized member of a composite error.
type Entry struct {
	Name    string         `json:"name"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Path    string         `json:"path,omitempty"`
}

// Normalized is the result of classifying an error.
type Normalized struct {
	Entry
	Known bool
	Stack []string
	Cause error
}

// Normalizer classifies errors and writes them as responses.
type Normalizer struct {
	kinds    StatusMapper
	log      Logger
	fallback func(err error)
	observer ErrorObserver
}

// NewNormalizer creates a normalizer. A nil logger logs nowhere.
func NewNormalizer(kinds StatusMapper, log Logger) *Normalizer {
	fb := zerolog.New(os.Stderr).With().Timestamp().Logger()
	n := &Normalizer{kinds: kinds, log: log}
	n.fallback = func(err error) {
		fb.Error().Err(err).Msg("error while logging api error")
	}
	return n
}

// SetFallback replaces the channel used when logging fails.
func (n *Normalizer) SetFallback(fn func(err error)) {
	n.fallback = fn
}

// SetObserver installs an error observer.
func (n *Normalizer) SetObserver(o ErrorObserver) {
	n.observer = o
}

// Normalize classifies err without writing anything.
func (n *Normalizer) Normalize(err error) Normalized {
	if seq, ok := asComposite(err); ok {
		return n.composite(seq)
	}
	return n.single(err)
}

// asComposite walks the single-wrap chain of err looking for a composite.
// The walk stops at the first named error: its cause is never searched.
func asComposite(err error) (apierr.Errors, bool) {
	for err != nil {
		switch e := err.(type) {
		case apierr.Errors:
			return e, true
		case *apierr.Error:
			return nil, false
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}

func (n *Normalizer) single(err error) Normalized {
	var aerr *apierr.Error
	if errors.As(err, &aerr) {
		if status, ok := n.kinds.StatusFor(aerr.Name); ok {
			data := aerr.Data
			if data == nil {
				data = map[string]any{}
			}
			return Normalized{
				Entry: Entry{
					Name:    aerr.Name,
					Code:    status,
					Message: aerr.Message,
					Data:    data,
					Path:    aerr.Path,
				},
				Known: true,
				Stack: trimStack(aerr.Stack()),
				Cause: aerr.Cause,
			}
		}
	}

	out := Normalized{
		Entry: Entry{
			Name:    "error",
			Code:    http.StatusInternalServerError,
			Message: GenericMessage,
			Data:    map[string]any{},
		},
		Cause: err,
	}
	if aerr != nil {
		out.Stack = trimStack(aerr.Stack())
	}
	return out
}

func (n *Normalizer) composite(seq apierr.Errors) Normalized {
	entries := make([]Entry, 0, len(seq))
	for _, err := range flatten(seq) {
		entries = append(entries, n.single(err).Entry)
	}

	status, ok := n.kinds.StatusFor("invalid")
	if !ok {
		status = http.StatusBadRequest
	}
	return Normalized{
		Entry: Entry{
			Name:    "invalid",
			Code:    status,
			Message: "Invalid",
			Data:    map[string]any{"errors": entries},
		},
		Known: true,
	}
}

// flatten lifts directly nested composites one level into the parent.
func flatten(seq apierr.Errors) []error {
	out := make([]error, 0, len(seq))
	for _, err := range seq {
		if err == nil {
			continue
		}
		if inner, ok := err.(apierr.Errors); ok {
			for _, e := range inner {
				if e != nil {
					out = append(out, e)
				}
			}
			continue
		}
		out = append(out, err)
	}
	return out
}

// Send logs err and writes the normalized response. Logging failures are
// reported through the fallback and never prevent the response.
func (n *Normalizer) Send(w http.ResponseWriter, r *http.Request, err error) {
	norm := n.Normalize(err)
	n.logError(r, err, norm)

	if n.observer != nil {
		n.observer.ObserveAPIError(norm.Name, norm.Code)
	}

	writeJSON(w, norm.Code, Body{
		Name:    norm.Name,
		Data:    norm.Data,
		Message: norm.Message,
	})
}

func (n *Normalizer) logError(r *http.Request, raw error, norm Normalized) {
	if n.log == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			n.reportLogFailure(&logFailure{rec: rec})
		}
	}()

	event := "api-error"
	level := zerolog.ErrorLevel
	if norm.Code != http.StatusInternalServerError {
		event = "api-error-" + norm.Name
	}
	if norm.Known {
		level = zerolog.InfoLevel
	}

	fields := map[string]any{
		"name":   norm.Name,
		"status": norm.Code,
		"data":   norm.Data,
	}
	if len(norm.Stack) > 0 {
		fields["stack"] = norm.Stack
	}
	if norm.Cause != nil {
		fields["cause"] = norm.Cause.Error()
	}
	if norm.Path != "" {
		fields["path"] = norm.Path
	}
	if r != nil {
		fields["method"] = r.Method
		fields["url"] = r.URL.Path
	}

	msg := norm.Message
	if !norm.Known && raw != nil {
		msg = raw.Error()
	}

	if err := n.log.Log(level, event, msg, fields); err != nil {
		n.reportLogFailure(err)
	}
}

func (n *Normalizer) reportLogFailure(err error) {
	if n.fallback != nil {
		n.fallback(err)
	}
}

type logFailure struct {
	rec any
}

func (l *logFailure) Error() string {
	return fmt.Sprintf("logger panicked: %v", l.rec)
}

// trimStack drops the top frame, which is the error constructor.
func trimStack(stack []string) []string {
	if len(stack) <= 1 {
		return nil
	}
	return stack[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
