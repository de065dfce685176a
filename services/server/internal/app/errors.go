package app

import "errors"

var (
	// ErrEmailAndPasswordRequired indicates missing credentials.
	ErrEmailAndPasswordRequired = errors.New("email and password are required")
	// ErrEmailAlreadyExists indicates duplicate registration.
	ErrEmailAlreadyExists = errors.New("email already registered")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrQuizNotFound indicates the quiz does not exist.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrForbidden indicates the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
	// ErrEmptyPrompt indicates a generation request without a prompt.
	ErrEmptyPrompt = errors.New("prompt is required")
)
