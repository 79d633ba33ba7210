// Package errors classifies failures raised while running task jobs so the
// delivery layer can map them onto responses and metric labels.
package errors

import (
	"context"
	"errors"
)

// Kind classifies an error for reporting purposes.
type Kind string

const (
	KindNone           Kind = ""
	KindConfig         Kind = "config"
	KindInfrastructure Kind = "infrastructure"
	KindCancelled      Kind = "cancelled"
)

// kinded is implemented by errors that carry an explicit classification.
type kinded interface {
	error
	Kind() Kind
}

// ClassifiedError attaches a Kind to an optional cause.
type ClassifiedError struct {
	kind    Kind
	Err     error
	Message string
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Kind reports the classification.
func (e *ClassifiedError) Kind() Kind { return e.kind }

// NewConfigError marks err as a configuration error: the task or plugin is
// misconfigured and retrying will not help.
func NewConfigError(err error, message string) *ClassifiedError {
	return &ClassifiedError{kind: KindConfig, Err: err, Message: message}
}

// NewCancelledError marks err as an administrative cancellation.
func NewCancelledError(err error, message string) *ClassifiedError {
	return &ClassifiedError{kind: KindCancelled, Err: err, Message: message}
}

// Classify returns the kind of err. Unclassified errors are infrastructure errors.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInfrastructure
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return Classify(err) == KindConfig
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return Classify(err) == KindCancelled
}
