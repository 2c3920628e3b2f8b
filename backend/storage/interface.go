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

package storage

import (
	"context"
	"time"

	"github.com/tagrelay/tagrelay/backend/models"
)

// The relay store is passive: every payload it holds is an opaque blob
// encrypted on a client device. Implementations return sentinel errors
// from backend/relayerr; handlers decide what is safe to put on the wire.

type OwnerStore interface {
	// CreateOwner inserts a provisional owner record only if the username
	// hash is absent. relayerr.ErrConflict on collision.
	CreateOwner(ctx context.Context, owner models.Owner) error
	GetOwner(ctx context.Context, usernameHash string) (*models.Owner, error)
	// ActivateOwner binds the public key and flips the record to active.
	ActivateOwner(ctx context.Context, usernameHash string, publicKey []byte) error
	// MarkOwnerForDeletion flips an active record to in_deletion, after
	// which the identity fails every credential and membership check.
	MarkOwnerForDeletion(ctx context.Context, usernameHash string) error
}

type TokenStore interface {
	// SaveOnboardingToken stores a single-use token bound to a username hash.
	SaveOnboardingToken(ctx context.Context, token, usernameHash string, ttl time.Duration) error
	// ConsumeOnboardingToken validates binding, expiry and single use.
	// relayerr.ErrTokenConsumed on reuse, relayerr.ErrTokenExpired past TTL.
	ConsumeOnboardingToken(ctx context.Context, token, usernameHash string) error
}

type TagStore interface {
	// ClaimTag creates generation 1 with the claiming owner's key blob.
	// relayerr.ErrAlreadyClaimed if an active keypair exists.
	ClaimTag(ctx context.Context, tag models.Tag, blob models.KeyBlob) error
	GetTag(ctx context.Context, tagID string) (*models.Tag, error)
	// GetKeyBlob returns the caller's blob for the current generation.
	GetKeyBlob(ctx context.Context, tagID, ownerID string) (*models.KeyBlob, error)
	// ListTagOwners returns the owner ids holding a current-generation blob.
	ListTagOwners(ctx context.Context, tagID string) ([]string, error)
	// AddKeyBlob adds one blob at the tag's current generation (owner
	// addition). Mutations of a tag's blob set are serialized per tag.
	// relayerr.ErrGenerationConflict on a stale generation.
	AddKeyBlob(ctx context.Context, blob models.KeyBlob) error
	// CommitRotation applies an all-or-nothing generation swap: validates
	// the expected generation (compare-and-swap), the performer's
	// membership and blob-set completeness, then replaces all blobs and
	// deletes every trace of the prior generation atomically.
	CommitRotation(ctx context.Context, commit models.RotationCommit) error
}

type MessageStore interface {
	CreateContactSession(ctx context.Context, session models.ContactSession, ttl time.Duration) error
	GetContactSession(ctx context.Context, sessionID string) (*models.ContactSession, error)
	SaveMessage(ctx context.Context, msg models.Message, ttl time.Duration) error
	// ListMessages returns the session's messages ordered by timestamp.
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

type ShareStore interface {
	CreateShareProcess(ctx context.Context, process models.ShareProcess, ttl time.Duration) error
	GetShareProcess(ctx context.Context, processID string) (*models.ShareProcess, error)
	// IssuePin binds a fresh single-use PIN and the candidate to the
	// process, moving it to pin_issued.
	IssuePin(ctx context.Context, processID, candidateID string, candidatePublicKey []byte, pin string) error
	// SubmitPin compares in constant time, counts attempts and fails
	// closed with relayerr.ErrAttemptsExceeded at the bound. On match the
	// process moves to pin_confirmed and is returned with the candidate
	// public key.
	SubmitPin(ctx context.Context, processID, pin string, maxAttempts int) (*models.ShareProcess, error)
	// MarkDelivered moves pin_confirmed to key_blob_delivered.
	MarkDelivered(ctx context.Context, processID string) error
	// CompleteShareProcess purges the PIN and all process metadata.
	CompleteShareProcess(ctx context.Context, processID string) error
}

type Store interface {
	OwnerStore
	TokenStore
	TagStore
	MessageStore
	ShareStore
}
