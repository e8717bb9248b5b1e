package lifecycle

import "errors"

var (
	ErrCallNotFound = errors.New("call not found")
	ErrNotPending   = errors.New("call is not pending approval")
)
