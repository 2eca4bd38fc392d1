package auth

import "errors"

var (
	ErrInvalidSubject     = errors.New("invalid subject")
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAuthDisabled       = errors.New("auth is disabled")
)
