package relay

import "errors"

var (
	ErrInvalidSession = errors.New("relay: unknown session")
	ErrNotInSession   = errors.New("relay: sender is not a member of this session")
)
