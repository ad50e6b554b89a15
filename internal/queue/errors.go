package queue

import "errors"

var (
	ErrNoExecutor = errors.New("no executor configured")
	ErrInvalidURL = errors.New("request URL is empty")
)
