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
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/storage"
)

// OwnerConfig carries the tunables for onboarding and login.
type OwnerConfig struct {
	JWT                middleware.JWTConfig
	SessionTTL         time.Duration
	OnboardingTokenTTL time.Duration
	// FailureDelay is the fixed artificial delay before any credential
	// failure response, so a duplicate username is not distinguishable
	// from a bad password by timing.
	FailureDelay time.Duration
}

type OwnerHandler struct {
	store  storage.Store
	config OwnerConfig
}

func NewOwnerHandler(store storage.Store, config OwnerConfig) *OwnerHandler {
	return &OwnerHandler{store: store, config: config}
}

// Onboard is phase 1: the client submits its username hash and a
// client-side password hash. A provisional record is created, and the
// server entropy plus a single-use session token come back. Any failure
// — duplicate username included — produces the same generic response
// after the same delay.
func (h *OwnerHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UsernameHash string `json:"username_hash"`
		PasswordHash string `json:"password_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UsernameHash == "" || req.PasswordHash == "" {
		h.failGeneric(w)
		return
	}

	// Salted server-side hash of the client hash; bcrypt generates and
	// embeds the salt.
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.PasswordHash), bcrypt.DefaultCost)
	if err != nil {
		h.failGeneric(w)
		return
	}

	serverEntropy, err := randomHex(32)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	owner := models.Owner{
		UsernameHash:  req.UsernameHash,
		PasswordHash:  passwordHash,
		ServerEntropy: serverEntropy,
		State:         models.OwnerOnboarding,
	}
	if err := h.store.CreateOwner(r.Context(), owner); err != nil {
		h.failGeneric(w)
		return
	}

	token, err := randomToken(32)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err := h.store.SaveOnboardingToken(r.Context(), token, req.UsernameHash, h.config.OnboardingTokenTTL); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"session_token":  token,
		"server_entropy": serverEntropy,
	})
}

// RegisterKey is phase 2: the client derived its keypair locally and now
// binds the public key, consuming the single-use token. Until this
// succeeds the identity is unusable for login.
func (h *OwnerHandler) RegisterKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UsernameHash string `json:"username_hash"`
		PublicKey    []byte `json:"public_key"`
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UsernameHash == "" || len(req.PublicKey) == 0 || req.SessionToken == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.ConsumeOnboardingToken(r.Context(), req.SessionToken, req.UsernameHash); err != nil {
		time.Sleep(h.config.FailureDelay)
		writeError(w, err)
		return
	}

	if err := h.store.ActivateOwner(r.Context(), req.UsernameHash, req.PublicKey); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// Login verifies the client password hash against the stored bcrypt and
// returns the server entropy (the client re-derives its private key from
// it) plus a bearer session token.
func (h *OwnerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UsernameHash string `json:"username_hash"`
		PasswordHash string `json:"password_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UsernameHash == "" || req.PasswordHash == "" {
		h.failAuth(w)
		return
	}

	owner, err := h.store.GetOwner(r.Context(), req.UsernameHash)
	if err != nil || owner.State != models.OwnerActive {
		h.failAuth(w)
		return
	}
	if err := bcrypt.CompareHashAndPassword(owner.PasswordHash, []byte(req.PasswordHash)); err != nil {
		h.failAuth(w)
		return
	}

	token, err := middleware.IssueSessionToken(h.config.JWT, owner.UsernameHash, h.config.SessionTTL)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_token":  token,
		"server_entropy": owner.ServerEntropy,
		"expires_in":     int(h.config.SessionTTL.Seconds()),
	})
}

// GetPublicKey returns an owner's standing public key. Owner ids are
// pseudonymous hashes, so this reveals no identity; rotation performers
// need it to seal key blobs for their co-owners.
func (h *OwnerHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ownerID := vars["ownerId"]

	owner, err := h.store.GetOwner(r.Context(), ownerID)
	if err != nil || owner.State != models.OwnerActive {
		http.Error(w, "Owner not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":   owner.UsernameHash,
		"public_key": owner.PublicKey,
	})
}

// Delete marks the authenticated owner's account for deletion. The record
// moves to in_deletion immediately: login and share participation fail
// from the next request on. Blob and message cleanup runs out of band.
func (h *OwnerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)

	if err := h.store.MarkOwnerForDeletion(r.Context(), ownerID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.OwnerInDeletion)})
}

func (h *OwnerHandler) failGeneric(w http.ResponseWriter) {
	time.Sleep(h.config.FailureDelay)
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "onboarding_failed"})
}

func (h *OwnerHandler) failAuth(w http.ResponseWriter) {
	time.Sleep(h.config.FailureDelay)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "auth_failure"})
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
