package password

import "errors"

var (
	ErrTooShort    = errors.New("password: too short")
	ErrTooLong     = errors.New("password: too long")
	ErrWeak        = errors.New("password: too weak")
	ErrInvalidHash = errors.New("password: invalid hash")
)
