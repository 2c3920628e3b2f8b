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

// Package tagkeys manages tag keypairs on the owner's device: claiming
// tags, recovering tag keys from sealed blobs, and rotating a tag's key
// when an owner is removed.
package tagkeys

import (
	"context"
	"errors"
	"fmt"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/client/crypto"
)

// Relay is the subset of the relay client the manager needs.
type Relay interface {
	ClaimTag(ctx context.Context, tagID string, publicKey, keyBlob, encryptedMeta []byte) error
	GetTag(ctx context.Context, tagID string) (*models.Tag, error)
	GetKeyBlob(ctx context.Context, tagID string) (*models.KeyBlob, error)
	ListTagOwners(ctx context.Context, tagID string) ([]string, error)
	GetOwnerPublicKey(ctx context.Context, ownerID string) ([]byte, error)
	CommitRotation(ctx context.Context, commit models.RotationCommit) error
}

// ErrGenerationMismatch is returned when the caller's key blob belongs to
// an older generation than the tag's current key. The holder has been
// rotated out and must be re-added through a share process.
var ErrGenerationMismatch = errors.New("key blob generation does not match tag")

// TagKey is a recovered tag keypair plus the generation it belongs to.
type TagKey struct {
	TagID      string
	Generation int
	Keypair    crypto.Keypair
}

// Manager performs tag key operations for one owner identity.
type Manager struct {
	relay    Relay
	identity *crypto.Identity
}

func NewManager(relay Relay, identity *crypto.Identity) *Manager {
	return &Manager{relay: relay, identity: identity}
}

// Claim registers an unclaimed tag. A fresh tag keypair is generated, the
// metadata is encrypted to the tag key, and the tag private key is sealed
// to the claimant's own identity key. Nothing readable leaves the device.
func (m *Manager) Claim(ctx context.Context, tagID string, meta []byte) (*TagKey, error) {
	tagKeypair, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	blob, err := crypto.SealKeyBlob(tagKeypair.Private, m.identity.Keypair.Public)
	if err != nil {
		return nil, fmt.Errorf("sealing key blob: %w", err)
	}

	encryptedMeta, err := crypto.Seal(meta, tagKeypair.Public)
	if err != nil {
		return nil, fmt.Errorf("encrypting metadata: %w", err)
	}

	if err := m.relay.ClaimTag(ctx, tagID, tagKeypair.Public.Bytes(), blob, encryptedMeta); err != nil {
		return nil, err
	}

	return &TagKey{TagID: tagID, Generation: 1, Keypair: *tagKeypair}, nil
}

// Fetch recovers the tag keypair from the caller's sealed blob and checks
// it against the tag's current generation.
func (m *Manager) Fetch(ctx context.Context, tagID string) (*TagKey, error) {
	tag, err := m.relay.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	blob, err := m.relay.GetKeyBlob(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if blob.Generation != tag.Generation {
		return nil, ErrGenerationMismatch
	}

	keypair, err := crypto.OpenKeyBlob(blob.Ciphertext, &m.identity.Keypair)
	if err != nil {
		return nil, err
	}
	return &TagKey{TagID: tagID, Generation: tag.Generation, Keypair: *keypair}, nil
}

// Meta fetches and decrypts the tag's metadata with the recovered key.
func (m *Manager) Meta(ctx context.Context, tagID string) ([]byte, error) {
	tag, err := m.relay.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	key, err := m.Fetch(ctx, tagID)
	if err != nil {
		return nil, err
	}
	return crypto.Open(tag.EncryptedMeta, &key.Keypair)
}

// RotateOnRemoval generates a new tag keypair, re-encrypts the metadata,
// seals the new key to every remaining owner and submits the whole
// rotation in one commit. The removed owner's access ends with the old
// generation; so does everyone's copy of the old key.
func (m *Manager) RotateOnRemoval(ctx context.Context, tagID, removedOwnerID string) error {
	current, err := m.Fetch(ctx, tagID)
	if err != nil {
		return err
	}

	tag, err := m.relay.GetTag(ctx, tagID)
	if err != nil {
		return err
	}

	meta, err := crypto.Open(tag.EncryptedMeta, &current.Keypair)
	if err != nil {
		return fmt.Errorf("decrypting metadata: %w", err)
	}

	owners, err := m.relay.ListTagOwners(ctx, tagID)
	if err != nil {
		return err
	}

	remaining := make([]string, 0, len(owners))
	selfIncluded := false
	for _, ownerID := range owners {
		if ownerID == removedOwnerID {
			continue
		}
		if ownerID == m.identity.UsernameHash {
			selfIncluded = true
		}
		remaining = append(remaining, ownerID)
	}
	if !selfIncluded {
		return errors.New("performer is not a remaining owner of this tag")
	}

	next, err := crypto.GenerateKeypair()
	if err != nil {
		return err
	}

	newMeta, err := crypto.Seal(meta, next.Public)
	if err != nil {
		return fmt.Errorf("re-encrypting metadata: %w", err)
	}

	newGeneration := current.Generation + 1
	blobs := make([]models.KeyBlob, 0, len(remaining))
	for _, ownerID := range remaining {
		ownerKey, err := m.relay.GetOwnerPublicKey(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("fetching key for owner %s: %w", ownerID, err)
		}
		pub, err := crypto.PublicKeyFromBytes(ownerKey)
		if err != nil {
			return fmt.Errorf("owner %s key: %w", ownerID, err)
		}
		sealed, err := crypto.SealKeyBlob(next.Private, pub)
		if err != nil {
			return fmt.Errorf("sealing blob for owner %s: %w", ownerID, err)
		}
		blobs = append(blobs, models.KeyBlob{
			TagID:      tagID,
			OwnerID:    ownerID,
			Generation: newGeneration,
			Ciphertext: sealed,
		})
	}

	return m.relay.CommitRotation(ctx, models.RotationCommit{
		TagID:              tagID,
		RemovedOwnerID:     removedOwnerID,
		ExpectedGeneration: current.Generation,
		NewPublicKey:       next.Public.Bytes(),
		NewEncryptedMeta:   newMeta,
		KeyBlobs:           blobs,
	})
}
