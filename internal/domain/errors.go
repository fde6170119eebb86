package domain

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPromptNotFound      = errors.New("prompt not found")
	ErrUsageNotFound       = errors.New("usage record not found")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrForbidden           = errors.New("not allowed to access this resource")
)
