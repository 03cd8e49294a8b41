// File: api/errors.go
// Package api defines errors shared across the library layers.
// License: Apache-2.0

package api

import "fmt"

var (
	ErrTransportClosed = fmt.Errorf("transport is closed")
	ErrNotSupported    = fmt.Errorf("operation not supported")
	ErrSessionClosed   = fmt.Errorf("session is closed")
)
