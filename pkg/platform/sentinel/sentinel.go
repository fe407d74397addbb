// Package sentinel holds errors for infrastructure facts. Stores and
// transports return these, optionally wrapped, so callers can translate them
// without knowing the backend.
//
//   - ErrNotFound: the record does not exist
//   - ErrUnavailable: the backend is temporarily unreachable
package sentinel

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)
