// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for hioload-mq.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotConnected      = errors.New("socket has no viable peer")
	ErrWouldBlock        = errors.New("operation would block")
	ErrTimeout           = fmt.Errorf("%w: operation timeout", ErrWouldBlock)
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrNotFound          = errors.New("resource not found")
	ErrTerminated        = errors.New("terminated")
	ErrNotSupported      = errors.New("operation not supported")
	ErrClosed            = errors.New("socket is closed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotConnected
	ErrCodeWouldBlock
	ErrCodeTimeout
	ErrCodeResourceExhausted
	ErrCodeProtocolViolation
	ErrCodeNotFound
	ErrCodeTerminated
	ErrCodeNotSupported
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:   ErrInvalidArgument,
	ErrCodeNotConnected:      ErrNotConnected,
	ErrCodeWouldBlock:        ErrWouldBlock,
	ErrCodeTimeout:           ErrTimeout,
	ErrCodeResourceExhausted: ErrResourceExhausted,
	ErrCodeProtocolViolation: ErrProtocolViolation,
	ErrCodeNotFound:          ErrNotFound,
	ErrCodeTerminated:        ErrTerminated,
	ErrCodeNotSupported:      ErrNotSupported,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel matching Code, so errors.Is works on both styles.
func (e *Error) Unwrap() error {
	return codeSentinels[e.Code]
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
