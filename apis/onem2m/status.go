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

package onem2m

// A StatusCode is a oneM2M response status code (RSC), per TS-0004
// m2m:responseStatusCode.
type StatusCode int64

// Response status codes used by this CSE implementation.
const (
	StatusOK      StatusCode = 2000
	StatusCreated StatusCode = 2001
	StatusDeleted StatusCode = 2002
	StatusUpdated StatusCode = 2004

	StatusBadRequest                               StatusCode = 4000
	StatusNotFound                                 StatusCode = 4004
	StatusOperationNotAllowed                      StatusCode = 4005
	StatusContentsUnacceptable                     StatusCode = 4102
	StatusOriginatorHasNoPrivilege                 StatusCode = 4103
	StatusConflict                                 StatusCode = 4105
	StatusInvalidChildResourceType                 StatusCode = 4108
	StatusOriginatorHasAlreadyRegistered           StatusCode = 4117
	StatusAppRuleValidationFailed                  StatusCode = 4165
	StatusInternalServerError                      StatusCode = 5000
	StatusNotImplemented                           StatusCode = 5001
	StatusTargetNotReachable                       StatusCode = 5103
	StatusReceiverHasNoPrivileges                  StatusCode = 5105
	StatusSubscriptionVerificationInitiationFailed StatusCode = 5204
)

// IsSuccess returns true if c signals a successful operation.
func (c StatusCode) IsSuccess() bool { return c >= 2000 && c < 3000 }

var statusNames = map[StatusCode]string{
	StatusOK:                                       "OK",
	StatusCreated:                                  "CREATED",
	StatusDeleted:                                  "DELETED",
	StatusUpdated:                                  "UPDATED",
	StatusBadRequest:                               "BAD_REQUEST",
	StatusNotFound:                                 "NOT_FOUND",
	StatusOperationNotAllowed:                      "OPERATION_NOT_ALLOWED",
	StatusContentsUnacceptable:                     "CONTENTS_UNACCEPTABLE",
	StatusOriginatorHasNoPrivilege:                 "ORIGINATOR_HAS_NO_PRIVILEGE",
	StatusConflict:                                 "CONFLICT",
	StatusInvalidChildResourceType:                 "INVALID_CHILD_RESOURCE_TYPE",
	StatusOriginatorHasAlreadyRegistered:           "ORIGINATOR_HAS_ALREADY_REGISTERED",
	StatusAppRuleValidationFailed:                  "APP_RULE_VALIDATION_FAILED",
	StatusInternalServerError:                      "INTERNAL_SERVER_ERROR",
	StatusNotImplemented:                           "NOT_IMPLEMENTED",
	StatusTargetNotReachable:                       "TARGET_NOT_REACHABLE",
	StatusReceiverHasNoPrivileges:                  "RECEIVER_HAS_NO_PRIVILEGES",
	StatusSubscriptionVerificationInitiationFailed: "SUBSCRIPTION_VERIFICATION_INITIATION_FAILED",
}

// String returns the TS-0004 name of c, or its numeric value when unknown.
func (c StatusCode) String() string {
	if n, ok := statusNames[c]; ok {
		return n
	}
	return "rsc:" + itoa(int64(c))
}

// HTTPStatus maps c onto the HTTP status code a binding should answer with.
func (c StatusCode) HTTPStatus() int {
	switch c {
	case StatusOK, StatusDeleted, StatusUpdated:
		return 200
	case StatusCreated:
		return 201
	case StatusBadRequest, StatusContentsUnacceptable, StatusAppRuleValidationFailed,
		StatusInvalidChildResourceType, StatusSubscriptionVerificationInitiationFailed:
		return 400
	case StatusOriginatorHasNoPrivilege, StatusReceiverHasNoPrivileges:
		return 403
	case StatusNotFound, StatusTargetNotReachable:
		return 404
	case StatusOperationNotAllowed:
		return 405
	case StatusConflict, StatusOriginatorHasAlreadyRegistered:
		return 409
	case StatusNotImplemented:
		return 501
	}
	return 500
}
