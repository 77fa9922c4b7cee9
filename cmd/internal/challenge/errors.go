package challenge

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("challenge not found")
	ErrNotActive     = errors.New("challenge not active")
	ErrTopicNotFound = errors.New("Topic not found")
)
