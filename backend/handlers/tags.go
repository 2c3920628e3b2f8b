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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/backend/storage"
)

type TagHandler struct {
	store storage.TagStore
}

func NewTagHandler(store storage.TagStore) *TagHandler {
	return &TagHandler{store: store}
}

// Claim registers generation 1 of a tag keypair together with the
// claiming owner's key blob. The tag private key never appears here; the
// blob was sealed on the client.
func (h *TagHandler) Claim(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	tagID := mux.Vars(r)["tagId"]

	var req struct {
		PublicKey     []byte `json:"public_key"`
		KeyBlob       []byte `json:"key_blob"`
		EncryptedMeta []byte `json:"encrypted_meta,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PublicKey) == 0 || len(req.KeyBlob) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tag := models.Tag{
		TagID:         tagID,
		PublicKey:     req.PublicKey,
		EncryptedMeta: req.EncryptedMeta,
	}
	blob := models.KeyBlob{
		TagID:      tagID,
		OwnerID:    ownerID,
		Generation: 1,
		Ciphertext: req.KeyBlob,
	}

	if err := h.store.ClaimTag(r.Context(), tag, blob); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tag_id":     tagID,
		"generation": 1,
	})
}

// GetPublicKey is unauthenticated: a finder who scanned the tag needs the
// current public key and generation to address a message.
func (h *TagHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	tagID := mux.Vars(r)["tagId"]

	tag, err := h.store.GetTag(r.Context(), tagID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag_id":     tag.TagID,
		"public_key": tag.PublicKey,
		"generation": tag.Generation,
	})
}

// Get returns the full tag record including the encrypted metadata blob.
// Owner-only: the caller must hold a key blob for the tag.
func (h *TagHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	tagID := mux.Vars(r)["tagId"]

	if _, err := h.store.GetKeyBlob(r.Context(), tagID, ownerID); err != nil {
		writeError(w, relayerr.ErrNotAuthorized)
		return
	}

	tag, err := h.store.GetTag(r.Context(), tagID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tag)
}

// GetKeyBlob hands the caller their own sealed tag private key.
func (h *TagHandler) GetKeyBlob(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	tagID := mux.Vars(r)["tagId"]

	blob, err := h.store.GetKeyBlob(r.Context(), tagID, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, blob)
}

// ListOwners returns the pseudonymous owner set of a tag. Owner-only.
func (h *TagHandler) ListOwners(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	tagID := mux.Vars(r)["tagId"]

	if _, err := h.store.GetKeyBlob(r.Context(), tagID, ownerID); err != nil {
		writeError(w, relayerr.ErrNotAuthorized)
		return
	}

	owners, err := h.store.ListTagOwners(r.Context(), tagID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag_id": tagID,
		"owners": owners,
	})
}

// Rotate commits a removal-triggered key rotation. The performing client
// did all the cryptography; the store only validates completeness and
// swaps the generation atomically.
func (h *TagHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	tagID := mux.Vars(r)["tagId"]

	var commit models.RotationCommit
	if err := json.NewDecoder(r.Body).Decode(&commit); err != nil || len(commit.NewPublicKey) == 0 || commit.RemovedOwnerID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	commit.TagID = tagID
	commit.PerformerID = ownerID

	if err := h.store.CommitRotation(r.Context(), commit); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag_id":     tagID,
		"generation": commit.ExpectedGeneration + 1,
	})
}
