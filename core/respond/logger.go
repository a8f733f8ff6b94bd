package respond

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Logger is the structured logger collaborator used by the normalizer.
type Logger interface {
	Log(level zerolog.Level, event, msg string, fields map[string]any) error
}

// ZerologLogger writes structured entries through zerolog.
type ZerologLogger struct {
	L zerolog.Logger
}

// Log writes one entry. Fields that cannot be encoded are reported as an
// error and nothing is written.
func (z ZerologLogger) Log(level zerolog.Level, event, msg string, fields map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("log %s: panic: %v", event, rec)
		}
	}()

	if _, err := json.Marshal(fields); err != nil {
		return fmt.Errorf("log %s: encode fields: %w", event, err)
	}

	z.L.WithLevel(level).
		Str("event", event).
		Fields(fields).
		Msg(msg)
	return nil
}
