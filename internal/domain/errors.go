package domain

import "errors"

var ErrNotFound = errors.New("not found")

var (
	ErrNoProject       = errors.New("no project loaded")
	ErrInvalidSegment  = errors.New("invalid segment index")
	ErrInvalidPhase    = errors.New("operation not allowed in current phase")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrDisposed        = errors.New("resource disposed")
)
