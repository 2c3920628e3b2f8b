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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/backend/storage"
)

// MessageConfig carries the relay TTL tunables.
type MessageConfig struct {
	ContactSessionTTL time.Duration
	MessageTTL        time.Duration
	MaxMessageTTL     time.Duration
}

// MessageHandler relays opaque payloads between finders and owners. A
// finder authenticates with the contact-session token from scanning the
// tag; an owner authenticates with a bearer session and must hold a key
// blob for the session's tag. The sender role is derived from the
// authentication method, never from the request body.
type MessageHandler struct {
	store  storage.Store
	config MessageConfig
}

func NewMessageHandler(store storage.Store, config MessageConfig) *MessageHandler {
	return &MessageHandler{store: store, config: config}
}

// CreateContactSession opens an anonymous channel for a finder who
// scanned a tag. No authentication: finders have no identity. The
// response includes the tag's current public key so a single scan is
// enough to address the first message.
func (h *MessageHandler) CreateContactSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TagID string `json:"tag_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TagID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tag, err := h.store.GetTag(r.Context(), req.TagID)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := randomToken(32)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	session := models.ContactSession{
		SessionID: uuid.New().String(),
		TagID:     req.TagID,
		Token:     token,
	}
	if err := h.store.CreateContactSession(r.Context(), session, h.config.ContactSessionTTL); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	recipients, err := h.recipients(r, req.TagID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":     session.SessionID,
		"session_token":  token,
		"tag_public_key": tag.PublicKey,
		"generation":     tag.Generation,
		"recipients":     recipients,
		"expires_in":     int(h.config.ContactSessionTTL.Seconds()),
	})
}

// Recipients returns the current owner public keys for the session's tag.
// Finders refresh this between messages: the owner set may have grown, and
// every message is wrapped to the active owners at send time.
func (h *MessageHandler) Recipients(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, _, err := h.authorize(r, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	tag, err := h.store.GetTag(r.Context(), session.TagID)
	if err != nil {
		writeError(w, err)
		return
	}

	recipients, err := h.recipients(r, session.TagID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"generation": tag.Generation,
		"recipients": recipients,
	})
}

// recipients collects the standing public keys of the tag's active owner
// set. Only the bare keys are exposed: a finder never learns owner ids.
func (h *MessageHandler) recipients(r *http.Request, tagID string) ([][]byte, error) {
	owners, err := h.store.ListTagOwners(r.Context(), tagID)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(owners))
	for _, ownerID := range owners {
		owner, err := h.store.GetOwner(r.Context(), ownerID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, owner.PublicKey)
	}
	return keys, nil
}

// Put stores one opaque payload in a contact session.
func (h *MessageHandler) Put(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, role, err := h.authorize(r, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Payload    []byte `json:"payload"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Payload) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ttl := h.config.MessageTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl > h.config.MaxMessageTTL {
			ttl = h.config.MaxMessageTTL
		}
	}

	now := time.Now()
	msg := models.Message{
		MessageID:  uuid.New().String(),
		SessionID:  session.SessionID,
		SenderRole: role,
		Payload:    req.Payload,
		Status:     models.MessageSent,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := h.store.SaveMessage(r.Context(), msg, ttl); err != nil {
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message_id": msg.MessageID,
		"status":     msg.Status,
	})
}

// List returns the session's messages ordered by timestamp.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	session, _, err := h.authorize(r, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), session.SessionID)
	if err != nil {
		http.Error(w, "Failed to retrieve messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"messages":   messages,
	})
}

// authorize resolves the caller to a sender role: the contact token makes
// a finder, a bearer session plus a key blob on the session's tag makes
// an owner. Everything else is a generic auth failure.
func (h *MessageHandler) authorize(r *http.Request, sessionID string) (*models.ContactSession, models.SenderRole, error) {
	session, err := h.store.GetContactSession(r.Context(), sessionID)
	if err != nil {
		return nil, "", err
	}

	if token := r.Header.Get("X-Contact-Token"); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(session.Token)) == 1 {
			return session, models.RoleFinder, nil
		}
		return nil, "", relayerr.ErrAuthFailure
	}

	if ownerID, ok := middleware.OwnerID(r); ok {
		if _, err := h.store.GetKeyBlob(r.Context(), session.TagID, ownerID); err == nil {
			return session, models.RoleOwner, nil
		}
		return nil, "", relayerr.ErrNotAuthorized
	}

	return nil, "", relayerr.ErrAuthFailure
}
