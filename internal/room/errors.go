package room

import "errors"

var (
	ErrSessionNotFound = errors.New("room: session not found")
	ErrSessionFull     = errors.New("room: session has no slot for this participant")
	ErrSessionClosed   = errors.New("room: session already closed")
)
