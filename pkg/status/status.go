/*
Copyright 2024 The CSE Runtime Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package status carries oneM2M response status codes through Go error
// values. Engine components return status-coded errors; the dispatcher
// reduces whatever error reaches it to a response status code, defaulting
// to INTERNAL_SERVER_ERROR for errors without a code.
package status

import (
	"errors"
	"fmt"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// An Error is an error with an associated oneM2M response status code.
type Error struct {
	code  onem2m.StatusCode
	msg   string
	cause error
}

// New returns an error with the supplied status code and message.
func New(code onem2m.StatusCode, msg string) error {
	return &Error{code: code, msg: msg}
}

// Errorf returns an error with the supplied status code and a formatted
// message.
func Errorf(code onem2m.StatusCode, format string, args ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error with the supplied status code and message that
// wraps the supplied error. It returns nil if the supplied error is nil.
func Wrap(err error, code onem2m.StatusCode, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, cause: err}
}

// Error returns the message, including the wrapped cause if any.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the status code of the error.
func (e *Error) Code() onem2m.StatusCode { return e.code }

// CodeOf returns the status code of the first coded error in err's chain.
// Errors without a code map to INTERNAL_SERVER_ERROR, and a nil error maps
// to OK.
func CodeOf(err error) onem2m.StatusCode {
	if err == nil {
		return onem2m.StatusOK
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return onem2m.StatusInternalServerError
}

// IsCode returns true if the first coded error in err's chain carries the
// supplied status code.
func IsCode(err error, code onem2m.StatusCode) bool {
	if err == nil {
		return false
	}
	var coded *Error
	return errors.As(err, &coded) && coded.code == code
}

// IsNotFound returns true if err signals a missing resource.
func IsNotFound(err error) bool { return IsCode(err, onem2m.StatusNotFound) }

// IsBadRequest returns true if err signals a malformed or invalid request.
func IsBadRequest(err error) bool { return IsCode(err, onem2m.StatusBadRequest) }

// IsConflict returns true if err signals a resource name conflict.
func IsConflict(err error) bool { return IsCode(err, onem2m.StatusConflict) }

// IsOperationNotAllowed returns true if err signals an operation the target
// resource type does not permit.
func IsOperationNotAllowed(err error) bool {
	return IsCode(err, onem2m.StatusOperationNotAllowed)
}

// IsNoPrivilege returns true if err signals an access-control denial.
func IsNoPrivilege(err error) bool {
	return IsCode(err, onem2m.StatusOriginatorHasNoPrivilege)
}

// IsInvalidChildResourceType returns true if err signals a parent/child
// type mismatch.
func IsInvalidChildResourceType(err error) bool {
	return IsCode(err, onem2m.StatusInvalidChildResourceType)
}

// IsAlreadyRegistered returns true if err signals a duplicate registration.
func IsAlreadyRegistered(err error) bool {
	return IsCode(err, onem2m.StatusOriginatorHasAlreadyRegistered)
}

// IsAppRuleValidationFailed returns true if err signals an originator
// outside the registration allowlist.
func IsAppRuleValidationFailed(err error) bool {
	return IsCode(err, onem2m.StatusAppRuleValidationFailed)
}

// IsVerificationFailed returns true if err signals a failed subscription
// verification handshake.
func IsVerificationFailed(err error) bool {
	return IsCode(err, onem2m.StatusSubscriptionVerificationInitiationFailed)
}

// IsTargetNotReachable returns true if err signals an unreachable remote
// target.
func IsTargetNotReachable(err error) bool {
	return IsCode(err, onem2m.StatusTargetNotReachable)
}
