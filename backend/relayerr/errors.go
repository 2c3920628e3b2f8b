// Copyright (C) 2026 tagrelay contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package relayerr defines the error taxonomy shared by the relay store
// and the client SDK. The relay never explains which precondition failed
// when doing so would reveal whether an identity or record exists; those
// cases all collapse into ErrAuthFailure on the wire.
package relayerr

import "errors"

var (
	// ErrAuthFailure covers bad credentials, bad session tokens and bad
	// PINs. Always reported generically.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrConflict covers duplicate registration and other unique-record
	// collisions.
	ErrConflict = errors.New("conflict")

	// ErrExpired marks TTL elapse on sessions, share processes and
	// rotation windows. Terminal; the flow must restart.
	ErrExpired = errors.New("expired")

	// ErrNotFound marks a missing record where existence is not secret.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized marks a privileged operation attempted by an
	// actor who is not a current owner.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrIntegrityFailure marks a payload that fails to decode under any
	// held key. Fail closed, never partial plaintext.
	ErrIntegrityFailure = errors.New("integrity failure")

	// ErrAlreadyClaimed is returned when claiming a tag that already has
	// an active keypair.
	ErrAlreadyClaimed = errors.New("tag already claimed")

	// ErrGenerationConflict is returned when a mutation carries a stale
	// expected generation. Callers refetch and retry once.
	ErrGenerationConflict = errors.New("tag generation conflict")

	// ErrIncompleteRotation is returned when a rotation commit does not
	// carry exactly one key blob per remaining owner.
	ErrIncompleteRotation = errors.New("incomplete rotation")

	// ErrAttemptsExceeded is returned once the PIN attempt bound is
	// reached, even if a later attempt would have matched.
	ErrAttemptsExceeded = errors.New("pin attempts exceeded")

	// ErrTokenConsumed is returned when a single-use onboarding token is
	// presented a second time.
	ErrTokenConsumed = errors.New("session token already consumed")

	// ErrTokenExpired is returned when an onboarding token is presented
	// past its TTL.
	ErrTokenExpired = errors.New("session token expired")
)

// Code returns the stable wire identifier for err, or "internal" for
// anything outside the taxonomy. Codes that would leak existence are
// mapped by the handlers before they reach the wire, not here.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrIntegrityFailure):
		return "integrity_failure"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrGenerationConflict):
		return "generation_conflict"
	case errors.Is(err, ErrIncompleteRotation):
		return "incomplete_rotation"
	case errors.Is(err, ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrTokenConsumed), errors.Is(err, ErrTokenExpired):
		return "auth_failure"
	default:
		return "internal"
	}
}

// FromCode maps a wire identifier back to its sentinel. Unknown codes
// come back as a plain error so callers still fail closed.
func FromCode(code string) error {
	switch code {
	case "auth_failure":
		return ErrAuthFailure
	case "conflict":
		return ErrConflict
	case "expired":
		return ErrExpired
	case "not_found":
		return ErrNotFound
	case "not_authorized":
		return ErrNotAuthorized
	case "integrity_failure":
		return ErrIntegrityFailure
	case "already_claimed":
		return ErrAlreadyClaimed
	case "generation_conflict":
		return ErrGenerationConflict
	case "incomplete_rotation":
		return ErrIncompleteRotation
	case "attempts_exceeded":
		return ErrAttemptsExceeded
	default:
		return errors.New("relay error: " + code)
	}
}
