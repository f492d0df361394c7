package access

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("user not found")
	ErrAlreadyClaimed    = errors.New("user already redeemed a link")
	ErrInvalidOrUsedLink = errors.New("link invalid or already used")
	ErrAlreadyAdmin      = errors.New("already an admin")
	ErrNotAdmin          = errors.New("not an admin")
	ErrLastAdmin         = errors.New("cannot remove the last admin")
)
