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

package models

import "time"

// Tag is the relay's view of a claimed tag: the current public key, the
// generation counter and an opaque metadata blob encrypted under the tag
// public key on the client. Exactly one generation is active at a time.
type Tag struct {
	TagID         string    `json:"tag_id" db:"tag_id"`
	PublicKey     []byte    `json:"public_key" db:"public_key"`
	Generation    int       `json:"generation" db:"generation"`
	EncryptedMeta []byte    `json:"encrypted_meta,omitempty" db:"encrypted_meta"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// KeyBlob is a tag private key encrypted to one owner's public key. The
// relay stores it without any ability to open it. Every stored blob
// references the tag's current generation; stale blobs are deleted
// atomically when a rotation commits.
type KeyBlob struct {
	TagID      string    `json:"tag_id" db:"tag_id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	Generation int       `json:"generation" db:"generation"`
	Ciphertext []byte    `json:"ciphertext" db:"ciphertext"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RotationCommit is the all-or-nothing payload a performing owner submits
// after a removal-triggered rotation. ExpectedGeneration implements the
// compare-and-swap: a stale value fails the whole commit. KeyBlobs must
// contain exactly one blob per remaining owner or the commit is rejected.
type RotationCommit struct {
	TagID              string    `json:"tag_id"`
	PerformerID        string    `json:"-"`
	RemovedOwnerID     string    `json:"removed_owner_id"`
	ExpectedGeneration int       `json:"expected_generation"`
	NewPublicKey       []byte    `json:"new_public_key"`
	NewEncryptedMeta   []byte    `json:"new_encrypted_meta,omitempty"`
	KeyBlobs           []KeyBlob `json:"key_blobs"`
}
