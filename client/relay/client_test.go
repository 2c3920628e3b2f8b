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

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrelay/tagrelay/backend/relayerr"
)

func TestRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"public_key":"a2V5"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryBudget(5*time.Second))
	key, err := client.GetOwnerPublicKey(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("key"), key)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already_claimed"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryBudget(5*time.Second))
	err := client.ClaimTag(context.Background(), "tag-1", []byte("pk"), []byte("blob"), nil)
	assert.ErrorIs(t, err, relayerr.ErrAlreadyClaimed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":"auth_failure"}`, relayerr.ErrAuthFailure},
		{http.StatusForbidden, `{"error":"not_authorized"}`, relayerr.ErrNotAuthorized},
		{http.StatusGone, `{"error":"expired"}`, relayerr.ErrExpired},
		{http.StatusConflict, `{"error":"generation_conflict"}`, relayerr.ErrGenerationConflict},
		{http.StatusTooManyRequests, `{"error":"attempts_exceeded"}`, relayerr.ErrAttemptsExceeded},
		// Plain-text bodies from intermediaries still map by status.
		{http.StatusNotFound, `no such route`, relayerr.ErrNotFound},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		}))
		client := NewClient(server.URL, WithRetryBudget(0))
		_, err := client.GetTag(context.Background(), "tag-1")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		server.Close()
	}
}

func TestAuthHeadersAreSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sess-token", r.Header.Get("Authorization"))
		assert.Equal(t, "contact-token", r.Header.Get("X-Contact-Token"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryBudget(0))
	client.SetSessionToken("sess-token")
	client.SetContactToken("contact-token")
	_, err := client.GetTag(context.Background(), "tag-1")
	require.NoError(t, err)
}
