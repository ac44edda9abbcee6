package models

import (
	"errors"
	"fmt"
)

// IllegalStateTransition is returned when an aggregate is asked to move to a
// state that its transition table does not allow from the current one.
type IllegalStateTransition struct {
	Entity string
	Action string
	From   string
}

func (e *IllegalStateTransition) Error() string {
	return fmt.Sprintf("illegal %s transition: cannot %s from %s", e.Entity, e.Action, e.From)
}

// NotFoundError reports a missing order, payment, settlement, user or queue item.
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Entity, e.ID)
}

// InvariantViolation is raised when an operation would break a business rule,
// e.g. refunding more than the refundable amount.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Reason
}

// ExternalCallFailure wraps a failed call to the payment gateway.
type ExternalCallFailure struct {
	Service string
	Err     error
}

func (e *ExternalCallFailure) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *ExternalCallFailure) Unwrap() error {
	return e.Err
}

func NewNotFound(entity string, id interface{}) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func NewInvariantViolation(format string, args ...interface{}) error {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsIllegalTransition(err error) bool {
	var target *IllegalStateTransition
	return errors.As(err, &target)
}

func IsInvariantViolation(err error) bool {
	var target *InvariantViolation
	return errors.As(err, &target)
}

func IsExternalCallFailure(err error) bool {
	var target *ExternalCallFailure
	return errors.As(err, &target)
}
