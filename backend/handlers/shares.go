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
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/backend/storage"
)

// ShareConfig carries the share-process tunables.
type ShareConfig struct {
	BaseURL     string
	ShareTTL    time.Duration
	PinAttempts int
}

// ShareHandler drives the PIN-confirmed owner-addition state machine. The
// relay is the single source of truth for process state; initiator and
// candidate only ever see the slice of it their role needs.
type ShareHandler struct {
	store  storage.Store
	config ShareConfig
}

func NewShareHandler(store storage.Store, config ShareConfig) *ShareHandler {
	return &ShareHandler{store: store, config: config}
}

// Create initiates a share for one or more tags the caller owns.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)

	var req struct {
		TagIDs []string `json:"tag_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.TagIDs) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	for _, tagID := range req.TagIDs {
		if _, err := h.store.GetKeyBlob(r.Context(), tagID, ownerID); err != nil {
			writeError(w, relayerr.ErrNotAuthorized)
			return
		}
	}

	process := models.ShareProcess{
		TagIDs:      req.TagIDs,
		State:       models.ShareInitiated,
		InitiatorID: ownerID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(h.config.ShareTTL),
	}

	// Short process ids collide eventually; retry allocation against the
	// store's uniqueness check.
	var err error
	for i := 0; i < 5; i++ {
		process.ProcessID, err = shortProcessID()
		if err != nil {
			break
		}
		err = h.store.CreateShareProcess(r.Context(), process, h.config.ShareTTL)
		if err == nil || !errors.Is(err, relayerr.ErrConflict) {
			break
		}
	}
	if err != nil {
		http.Error(w, "Failed to create share process", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"process_id": process.ProcessID,
		"share_link": h.config.BaseURL + "/share/" + process.ProcessID,
		"expires_in": int(h.config.ShareTTL.Seconds()),
	})
}

// Accept is the candidate's step: opening the share link, authenticated
// as themself, yields a fresh single-use PIN bound to the process. The
// candidate relays the PIN to the initiator out-of-band.
func (h *ShareHandler) Accept(w http.ResponseWriter, r *http.Request) {
	candidateID, _ := middleware.OwnerID(r)
	processID := mux.Vars(r)["processId"]

	candidate, err := h.store.GetOwner(r.Context(), candidateID)
	if err != nil || candidate.State != models.OwnerActive || len(candidate.PublicKey) == 0 {
		writeError(w, relayerr.ErrAuthFailure)
		return
	}

	pin, err := randomPin()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if err := h.store.IssuePin(r.Context(), processID, candidateID, candidate.PublicKey, pin); err != nil {
		writeError(w, err)
		return
	}

	process, err := h.store.GetShareProcess(r.Context(), processID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pin":        pin,
		"tag_ids":    process.TagIDs,
		"expires_at": process.ExpiresAt,
	})
}

// SubmitPin is the initiator's confirmation. On match the candidate's
// public key is released so the initiator's client can seal the tag
// private keys to it. Mismatches consume one of the bounded attempts.
func (h *ShareHandler) SubmitPin(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	processID := mux.Vars(r)["processId"]

	var req struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pin == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	process, err := h.store.GetShareProcess(r.Context(), processID)
	if err != nil {
		writeError(w, err)
		return
	}
	if process.InitiatorID != ownerID {
		writeError(w, relayerr.ErrNotAuthorized)
		return
	}

	confirmed, err := h.store.SubmitPin(r.Context(), processID, req.Pin, h.config.PinAttempts)
	if err != nil {
		writeError(w, err)
		return
	}

	// The initiator needs each tag's current generation to stamp the
	// candidate blobs.
	tags := make([]map[string]interface{}, 0, len(confirmed.TagIDs))
	for _, tagID := range confirmed.TagIDs {
		tag, err := h.store.GetTag(r.Context(), tagID)
		if err != nil {
			writeError(w, err)
			return
		}
		tags = append(tags, map[string]interface{}{
			"tag_id":     tag.TagID,
			"generation": tag.Generation,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidate_id":         confirmed.CandidateID,
		"candidate_public_key": confirmed.CandidatePublicKey,
		"tags":                 tags,
	})
}

// DeliverBlobs uploads the candidate's key blobs — one per shared tag,
// each at the tag's current generation — and completes the process. This
// is owner addition, not removal: no rotation happens.
func (h *ShareHandler) DeliverBlobs(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := middleware.OwnerID(r)
	processID := mux.Vars(r)["processId"]

	var req struct {
		KeyBlobs []models.KeyBlob `json:"key_blobs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.KeyBlobs) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	process, err := h.store.GetShareProcess(r.Context(), processID)
	if err != nil {
		writeError(w, err)
		return
	}
	if process.InitiatorID != ownerID {
		writeError(w, relayerr.ErrNotAuthorized)
		return
	}
	if process.State != models.SharePinConfirmed {
		writeError(w, relayerr.ErrConflict)
		return
	}

	// One blob per shared tag, no extras.
	covered := make(map[string]bool, len(process.TagIDs))
	for _, tagID := range process.TagIDs {
		covered[tagID] = false
	}
	for _, blob := range req.KeyBlobs {
		done, ok := covered[blob.TagID]
		if !ok || done {
			http.Error(w, "Blob set does not match shared tags", http.StatusBadRequest)
			return
		}
		covered[blob.TagID] = true
	}
	for _, done := range covered {
		if !done {
			http.Error(w, "Blob set does not match shared tags", http.StatusBadRequest)
			return
		}
	}

	for _, blob := range req.KeyBlobs {
		blob.OwnerID = process.CandidateID
		if err := h.store.AddKeyBlob(r.Context(), blob); err != nil {
			// A blob already present means a prior delivery attempt got
			// this far before being interrupted; inserting the rest must
			// still succeed so the process can complete.
			if errors.Is(err, relayerr.ErrConflict) {
				continue
			}
			writeError(w, err)
			return
		}
	}

	if err := h.store.MarkDelivered(r.Context(), processID); err != nil {
		writeError(w, err)
		return
	}
	// Completion purges the PIN and all process metadata; only the
	// key blob records survive.
	if err := h.store.CompleteShareProcess(r.Context(), processID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.ShareCompleted)})
}

const processIDAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// shortProcessID returns a 10-character id over an unambiguous alphabet,
// suitable for reading off a share link.
func shortProcessID() (string, error) {
	id := make([]byte, 10)
	max := big.NewInt(int64(len(processIDAlphabet)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		id[i] = processIDAlphabet[n.Int64()]
	}
	return string(id), nil
}

// randomPin returns a 6-digit PIN. Low entropy by construction; the
// attempt bound and process TTL carry the security.
func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	pin := n.String()
	for len(pin) < 6 {
		pin = "0" + pin
	}
	return pin, nil
}
