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

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tagrelay/tagrelay/backend/relayerr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError translates taxonomy errors to wire responses. Token errors
// collapse into the generic auth failure so reuse and expiry are not
// distinguishable from outside.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, relayerr.ErrAuthFailure),
		errors.Is(err, relayerr.ErrTokenConsumed),
		errors.Is(err, relayerr.ErrTokenExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, relayerr.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, relayerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, relayerr.ErrConflict),
		errors.Is(err, relayerr.ErrAlreadyClaimed),
		errors.Is(err, relayerr.ErrGenerationConflict):
		status = http.StatusConflict
	case errors.Is(err, relayerr.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, relayerr.ErrIncompleteRotation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, relayerr.ErrAttemptsExceeded):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": relayerr.Code(err)})
}
