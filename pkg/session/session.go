// Package session owns the host-side session lifecycle: the session ID
// that scopes the recovery flag, and the flag stores the loader reads and
// writes. A session spans any number of self-restarts of the host process
// (the ID is re-exported across the exec boundary) and ends when the host
// is launched without an inherited ID.
package session

import (
	"os"

	"github.com/google/uuid"
)

// EnvVar carries the session ID across a full-environment reload. A child
// process started by the exec reloader inherits it; a fresh launch does
// not have it and therefore starts a new session.
const EnvVar = "MANIFOLD_SESSION_ID"

// Session identifies one host session
type Session struct {
	ID string
	// Resumed is true when this process was started by a recovery reload
	// and continues an existing session.
	Resumed bool
}

// Resolve determines the current session from the environment. When no ID
// is inherited a new session begins and its ID is exported so a later
// exec reload carries it forward.
func Resolve() (Session, error) {
	if id := os.Getenv(EnvVar); id != "" {
		return Session{ID: id, Resumed: true}, nil
	}
	id := uuid.New().String()
	if err := os.Setenv(EnvVar, id); err != nil {
		return Session{}, err
	}
	return Session{ID: id, Resumed: false}, nil
}
