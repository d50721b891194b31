package domain

import "errors"

var (
	ErrUserNotSet      = errors.New("no user in session")
	ErrUserNotFound    = errors.New("user not found")
	ErrHistoryNotFound = errors.New("history not found")
	ErrUnauthorized    = errors.New("unauthorized")
)
