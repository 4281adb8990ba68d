// Package failure classifies pipeline errors by how a failed message must be settled.
//
// Every error produced while handling a message belongs to exactly one class:
//
//   - Transient: broker or store unreachable. Retried via reconnect or redelivery.
//   - Malformed: bad JSON, undecodable payload, invalid features. Dead-lettered, never retried.
//   - Capability: a capability ran and found nothing usable (e.g. no feature region). Dropped.
//   - Unavailable: a capability is not ready yet (e.g. model not loaded). Retried via redelivery.
//
// Errors that carry no class are reported as Unclassified and are retried like Transient.
package failure

import (
	"errors"
	"fmt"
)

// Class identifies how a failed message must be settled.
type Class int

const (
	ClassUnclassified Class = iota
	ClassTransient
	ClassMalformed
	ClassCapability
	ClassUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassMalformed:
		return "malformed"
	case ClassCapability:
		return "capability"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "unclassified"
	}
}

// Retryable reports whether messages failing with this class should be redelivered.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassUnavailable || c == ClassUnclassified
}

// Error attaches a Class to an underlying error.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String() + " failure"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Err: err}
}

// Transient marks err as a temporary infrastructure failure.
func Transient(err error) error { return wrap(ClassTransient, err) }

// Malformed marks err as a terminal input failure.
func Malformed(err error) error { return wrap(ClassMalformed, err) }

// Capability marks err as a terminal capability outcome.
func Capability(err error) error { return wrap(ClassCapability, err) }

// Unavailable marks err as a capability that may recover later.
func Unavailable(err error) error { return wrap(ClassUnavailable, err) }

// Malformedf formats a new Malformed error.
func Malformedf(format string, args ...any) error {
	return Malformed(fmt.Errorf(format, args...))
}

// ClassOf returns the outermost class attached to err.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnclassified
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ClassUnclassified
}

// IsTransient reports whether err was classified as Transient.
func IsTransient(err error) bool { return ClassOf(err) == ClassTransient }

// IsMalformed reports whether err was classified as Malformed.
func IsMalformed(err error) bool { return ClassOf(err) == ClassMalformed }
