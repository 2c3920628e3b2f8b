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

// Package membership drives owner-set changes: adding an owner through a
// PIN-confirmed share process and removing one through a key rotation.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/client/crypto"
	"github.com/tagrelay/tagrelay/client/relay"
	"github.com/tagrelay/tagrelay/client/tagkeys"
)

// Relay is the subset of the relay client the coordinator needs beyond
// what the tag key manager already covers.
type Relay interface {
	CreateShare(ctx context.Context, tagIDs []string) (*relay.ShareResult, error)
	AcceptShare(ctx context.Context, processID string) (*relay.AcceptResult, error)
	SubmitPin(ctx context.Context, processID, pin string) (*relay.PinResult, error)
	DeliverShareBlobs(ctx context.Context, processID string, blobs []models.KeyBlob) error
}

// Coordinator runs membership changes for one owner identity.
type Coordinator struct {
	relay Relay
	tags  *tagkeys.Manager
}

func NewCoordinator(r Relay, tags *tagkeys.Manager) *Coordinator {
	return &Coordinator{relay: r, tags: tags}
}

// StartShare opens a share process for the given tags. The returned link
// goes to the candidate out of band; the relay never learns who it is
// meant for until they accept.
func (c *Coordinator) StartShare(ctx context.Context, tagIDs []string) (*relay.ShareResult, error) {
	if len(tagIDs) == 0 {
		return nil, errors.New("at least one tag required")
	}
	return c.relay.CreateShare(ctx, tagIDs)
}

// AcceptShare joins a share process as the candidate. The returned PIN
// must reach the initiator over a channel the relay cannot see; the
// relay matching it later is what proves the two sides talked.
func (c *Coordinator) AcceptShare(ctx context.Context, processID string) (*relay.AcceptResult, error) {
	return c.relay.AcceptShare(ctx, processID)
}

// ConfirmPin is the initiator's final step: the PIN is verified, then
// every shared tag's private key is recovered locally, sealed to the
// candidate's public key and delivered. The relay relays sealed blobs it
// cannot open.
func (c *Coordinator) ConfirmPin(ctx context.Context, processID, pin string) error {
	confirmed, err := c.relay.SubmitPin(ctx, processID, pin)
	if err != nil {
		return err
	}

	candidateKey, err := crypto.PublicKeyFromBytes(confirmed.CandidatePublicKey)
	if err != nil {
		return fmt.Errorf("candidate key: %w", err)
	}

	blobs := make([]models.KeyBlob, 0, len(confirmed.Tags))
	for _, tag := range confirmed.Tags {
		key, err := c.tags.Fetch(ctx, tag.TagID)
		if err != nil {
			return fmt.Errorf("recovering key for tag %s: %w", tag.TagID, err)
		}
		if key.Generation != tag.Generation {
			return tagkeys.ErrGenerationMismatch
		}
		sealed, err := crypto.SealKeyBlob(key.Keypair.Private, candidateKey)
		if err != nil {
			return fmt.Errorf("sealing blob for tag %s: %w", tag.TagID, err)
		}
		blobs = append(blobs, models.KeyBlob{
			TagID:      tag.TagID,
			OwnerID:    confirmed.CandidateID,
			Generation: tag.Generation,
			Ciphertext: sealed,
		})
	}

	return c.relay.DeliverShareBlobs(ctx, processID, blobs)
}

// RemoveOwner rotates the tag key away from one owner. A concurrent
// rotation surfaces as a generation conflict; one refetch and retry
// covers the benign case of racing co-owners.
func (c *Coordinator) RemoveOwner(ctx context.Context, tagID, removedOwnerID string) error {
	err := c.tags.RotateOnRemoval(ctx, tagID, removedOwnerID)
	if errors.Is(err, relayerr.ErrGenerationConflict) {
		return c.tags.RotateOnRemoval(ctx, tagID, removedOwnerID)
	}
	return err
}
