package veracity

import "errors"

var (
	// ErrNoRoots is returned by New when no source root is configured.
	ErrNoRoots = errors.New("veracity: no source roots configured")

	// ErrNoQuery is returned by Search for an empty query.
	ErrNoQuery = errors.New("veracity: empty query")
)
