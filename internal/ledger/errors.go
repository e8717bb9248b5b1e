package ledger

import "errors"

var (
	ErrAlreadyRegistered    = errors.New("account already registered")
	ErrNotFound             = errors.New("account not found")
	ErrInactive             = errors.New("account is inactive")
	ErrInsufficientTreasury = errors.New("insufficient treasury balance")
	ErrInvalidSignificance  = errors.New("significance must be between 0 and 1000")
	ErrInvalidAccount       = errors.New("account id must not be empty")
	ErrUnknownInteraction   = errors.New("unknown interaction kind")
	ErrSelfReport           = errors.New("account cannot report itself")
	ErrOverflow             = errors.New("token amount overflows 256 bits")
	ErrCounterOverflow      = errors.New("interaction counter overflows")
)
