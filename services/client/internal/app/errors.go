package app

import "errors"

var (
	// ErrQuizNotFound indicates the quiz id has no local record.
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrEmptyQuestion    = errors.New("question required")
	ErrNotAuthenticated = errors.New("not authenticated")
)
