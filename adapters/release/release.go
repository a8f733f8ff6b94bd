// Package release resolves the asset release id that keys cached pages.
package release

import (
	"os"

	"github.com/google/uuid"
)

// EnvVar overrides the configured release id.
const EnvVar = "MODHOST_RELEASE_ID"

// Resolver reports the current asset release.
type Resolver struct {
	id string
}

// New resolves the release id: the configured id if set, else the
// environment, else a random id fixed for the life of the process.
func New(configured string) *Resolver {
	id := configured
	if id == "" {
		id = os.Getenv(EnvVar)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Resolver{id: id}
}

// ReleaseID returns the release id.
func (r *Resolver) ReleaseID() string {
	return r.id
}
