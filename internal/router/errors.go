package router

import (
	"errors"
	"strings"
)

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrInvalidRole             = errors.New("invalid role")
	ErrInvalidMode             = errors.New("invalid communication mode")
	ErrNoDriverProfile         = errors.New("no driver profile registered")
	ErrCommunicationNotAllowed = errors.New("communication not allowed for this trip")
	ErrNoOverlay               = errors.New("communication overlay is not open")
	ErrEstimateInFlight        = errors.New("fare estimate still in flight")
	ErrEmptyMessage            = errors.New("message is empty")
	ErrInvalidForm             = errors.New("invalid form")
)

// FormError lists the fields that failed validation. It matches ErrInvalidForm.
type FormError struct {
	Fields []string
}

func (e *FormError) Error() string {
	return "invalid form: missing or invalid " + strings.Join(e.Fields, ", ")
}

func (e *FormError) Is(target error) bool { return target == ErrInvalidForm }
