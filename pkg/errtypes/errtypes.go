// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errtypes contains the definitions for the request-fatal error
// kinds of the file API. Every kind carries the HTTP status it maps to,
// so handlers can translate any error from the lower layers without
// inspecting its text.
package errtypes

import (
	"errors"
	"net/http"
)

// MissingToken is the error to use when no bearer token is present.
type MissingToken string

func (e MissingToken) Error() string   { return "missing token: " + string(e) }
func (e MissingToken) StatusCode() int { return http.StatusUnauthorized }

// InvalidSignature is the error to use when a structurally valid token
// fails signature verification.
type InvalidSignature string

func (e InvalidSignature) Error() string   { return "invalid signature: " + string(e) }
func (e InvalidSignature) StatusCode() int { return http.StatusForbidden }

// Expired is the error to use when a token is expired, or when its exp
// lies further ahead than the maximum issuance window.
type Expired string

func (e Expired) Error() string   { return "token expired: " + string(e) }
func (e Expired) StatusCode() int { return http.StatusForbidden }

// WrongProject is the error to use when the token's project does not
// match the project in the URL, or the project is not configured.
type WrongProject string

func (e WrongProject) Error() string   { return "wrong project: " + string(e) }
func (e WrongProject) StatusCode() int { return http.StatusUnauthorized }

// WrongRole is the error to use when the token's role does not allow
// the requested operation.
type WrongRole string

func (e WrongRole) Error() string   { return "wrong role: " + string(e) }
func (e WrongRole) StatusCode() int { return http.StatusUnauthorized }

// NotAMember is the error to use when the request names a group the
// token holder is not a member of.
type NotAMember string

func (e NotAMember) Error() string   { return "not a group member: " + string(e) }
func (e NotAMember) StatusCode() int { return http.StatusUnauthorized }

// InvalidPath is the error to use when a destination path component
// fails validation.
type InvalidPath string

func (e InvalidPath) Error() string   { return "invalid path: " + string(e) }
func (e InvalidPath) StatusCode() int { return http.StatusBadRequest }

// InvalidSnsParam is the error to use when an SNS key id or form id is
// malformed.
type InvalidSnsParam string

func (e InvalidSnsParam) Error() string   { return "invalid sns parameter: " + string(e) }
func (e InvalidSnsParam) StatusCode() int { return http.StatusBadRequest }

// MissingFilename is the error to use when no filename accompanies an
// upload.
type MissingFilename string

func (e MissingFilename) Error() string   { return "missing filename: " + string(e) }
func (e MissingFilename) StatusCode() int { return http.StatusBadRequest }

// EmptyBody is the error to use when a zero-byte upload reaches a
// destination that requires content.
type EmptyBody string

func (e EmptyBody) Error() string   { return "empty body: " + string(e) }
func (e EmptyBody) StatusCode() int { return http.StatusBadRequest }

// TransformError is the error to use when a streaming decoder fails:
// bad padding, bad gzip header, truncated tar.
type TransformError string

func (e TransformError) Error() string   { return "transform failed: " + string(e) }
func (e TransformError) StatusCode() int { return http.StatusBadRequest }

// ChecksumMismatch is the error to use when a stored chunk or a merged
// file does not match the client-supplied MD5.
type ChecksumMismatch string

func (e ChecksumMismatch) Error() string   { return "checksum mismatch: " + string(e) }
func (e ChecksumMismatch) StatusCode() int { return http.StatusBadRequest }

// PayloadTooLarge is the error to use when a body exceeds the
// configured cap.
type PayloadTooLarge string

func (e PayloadTooLarge) Error() string   { return "payload too large: " + string(e) }
func (e PayloadTooLarge) StatusCode() int { return http.StatusRequestEntityTooLarge }

// ResumableNotFound is the error to use when no resumable upload
// matches the given id or filename.
type ResumableNotFound string

func (e ResumableNotFound) Error() string   { return "resumable not found: " + string(e) }
func (e ResumableNotFound) StatusCode() int { return http.StatusNotFound }

// NotFound is the error to use when a requested file does not exist.
type NotFound string

func (e NotFound) Error() string   { return "not found: " + string(e) }
func (e NotFound) StatusCode() int { return http.StatusNotFound }

// Forbidden is the error to use when an authenticated request is
// denied, such as an export path traversal attempt.
type Forbidden string

func (e Forbidden) Error() string   { return "forbidden: " + string(e) }
func (e Forbidden) StatusCode() int { return http.StatusForbidden }

// IOError is the error to use for unexpected filesystem failures.
type IOError string

func (e IOError) Error() string   { return "io error: " + string(e) }
func (e IOError) StatusCode() int { return http.StatusInternalServerError }

// WithStatus is the interface implemented by every error kind in this
// package.
type WithStatus interface {
	error
	StatusCode() int
}

// Status returns the HTTP status for err. Errors that do not carry a
// kind from this package map to 500.
func Status(err error) int {
	var ws WithStatus
	if errors.As(err, &ws) {
		return ws.StatusCode()
	}
	return http.StatusInternalServerError
}
