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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
)

func claimedTag(t *testing.T, s *Store, tagID string, owners ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ClaimTag(ctx,
		models.Tag{TagID: tagID, PublicKey: []byte("tagpub-1")},
		models.KeyBlob{TagID: tagID, OwnerID: owners[0], Ciphertext: []byte("blob")}))
	for _, owner := range owners[1:] {
		require.NoError(t, s.AddKeyBlob(ctx, models.KeyBlob{
			TagID: tagID, OwnerID: owner, Generation: 1, Ciphertext: []byte("blob"),
		}))
	}
}

func TestClaimTagOnlyOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice")

	err := s.ClaimTag(ctx,
		models.Tag{TagID: "tag-1", PublicKey: []byte("other")},
		models.KeyBlob{TagID: "tag-1", OwnerID: "mallory"})
	assert.ErrorIs(t, err, relayerr.ErrAlreadyClaimed)
}

func TestAddKeyBlobStaleGeneration(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice")

	err := s.AddKeyBlob(ctx, models.KeyBlob{
		TagID: "tag-1", OwnerID: "bob", Generation: 2, Ciphertext: []byte("blob"),
	})
	assert.ErrorIs(t, err, relayerr.ErrGenerationConflict)
}

func TestCommitRotationRemovesOwner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice", "bob", "carol")

	err := s.CommitRotation(ctx, models.RotationCommit{
		TagID:              "tag-1",
		PerformerID:        "alice",
		RemovedOwnerID:     "bob",
		ExpectedGeneration: 1,
		NewPublicKey:       []byte("tagpub-2"),
		KeyBlobs: []models.KeyBlob{
			{TagID: "tag-1", OwnerID: "alice", Generation: 2, Ciphertext: []byte("b2")},
			{TagID: "tag-1", OwnerID: "carol", Generation: 2, Ciphertext: []byte("b2")},
		},
	})
	require.NoError(t, err)

	tag, err := s.GetTag(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, 2, tag.Generation)
	assert.Equal(t, []byte("tagpub-2"), tag.PublicKey)

	_, err = s.GetKeyBlob(ctx, "tag-1", "bob")
	assert.ErrorIs(t, err, relayerr.ErrNotAuthorized)

	owners, err := s.ListTagOwners(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, owners)
}

func TestCommitRotationStaleGeneration(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice", "bob")

	err := s.CommitRotation(ctx, models.RotationCommit{
		TagID:              "tag-1",
		PerformerID:        "alice",
		RemovedOwnerID:     "bob",
		ExpectedGeneration: 7,
		NewPublicKey:       []byte("tagpub-2"),
		KeyBlobs: []models.KeyBlob{
			{TagID: "tag-1", OwnerID: "alice", Generation: 8, Ciphertext: []byte("b2")},
		},
	})
	assert.ErrorIs(t, err, relayerr.ErrGenerationConflict)

	tag, err := s.GetTag(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, 1, tag.Generation)
}

func TestCommitRotationIncompleteBlobSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice", "bob", "carol")

	// Missing carol's replacement blob: the whole commit is rejected and
	// nothing changes.
	err := s.CommitRotation(ctx, models.RotationCommit{
		TagID:              "tag-1",
		PerformerID:        "alice",
		RemovedOwnerID:     "bob",
		ExpectedGeneration: 1,
		NewPublicKey:       []byte("tagpub-2"),
		KeyBlobs: []models.KeyBlob{
			{TagID: "tag-1", OwnerID: "alice", Generation: 2, Ciphertext: []byte("b2")},
		},
	})
	assert.ErrorIs(t, err, relayerr.ErrIncompleteRotation)

	_, err = s.GetKeyBlob(ctx, "tag-1", "bob")
	assert.NoError(t, err)
	_, err = s.GetKeyBlob(ctx, "tag-1", "carol")
	assert.NoError(t, err)
}

func TestCommitRotationPerformerMustRemain(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	claimedTag(t, s, "tag-1", "alice", "bob")

	// An owner cannot rotate themself out.
	err := s.CommitRotation(ctx, models.RotationCommit{
		TagID:              "tag-1",
		PerformerID:        "alice",
		RemovedOwnerID:     "alice",
		ExpectedGeneration: 1,
		NewPublicKey:       []byte("tagpub-2"),
		KeyBlobs: []models.KeyBlob{
			{TagID: "tag-1", OwnerID: "bob", Generation: 2, Ciphertext: []byte("b2")},
		},
	})
	assert.ErrorIs(t, err, relayerr.ErrNotAuthorized)

	// Nor can a non-owner rotate at all.
	err = s.CommitRotation(ctx, models.RotationCommit{
		TagID:              "tag-1",
		PerformerID:        "mallory",
		RemovedOwnerID:     "bob",
		ExpectedGeneration: 1,
		NewPublicKey:       []byte("tagpub-2"),
		KeyBlobs: []models.KeyBlob{
			{TagID: "tag-1", OwnerID: "alice", Generation: 2, Ciphertext: []byte("b2")},
		},
	})
	assert.ErrorIs(t, err, relayerr.ErrNotAuthorized)
}

func TestOnboardingTokenSingleUse(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveOnboardingToken(ctx, "tok", "alice", time.Minute))

	require.NoError(t, s.ConsumeOnboardingToken(ctx, "tok", "alice"))
	assert.ErrorIs(t, s.ConsumeOnboardingToken(ctx, "tok", "alice"), relayerr.ErrTokenConsumed)
}

func TestOnboardingTokenExpiry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })
	require.NoError(t, s.SaveOnboardingToken(ctx, "tok", "alice", time.Minute))

	s.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	assert.ErrorIs(t, s.ConsumeOnboardingToken(ctx, "tok", "alice"), relayerr.ErrTokenExpired)
}

func TestOnboardingTokenWrongBinding(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.SaveOnboardingToken(ctx, "tok", "alice", time.Minute))
	assert.ErrorIs(t, s.ConsumeOnboardingToken(ctx, "tok", "bob"), relayerr.ErrAuthFailure)
}

func shareFixture(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	process := models.ShareProcess{
		ProcessID:   "proc-1",
		TagIDs:      []string{"tag-1"},
		State:       models.ShareInitiated,
		InitiatorID: "alice",
	}
	require.NoError(t, s.CreateShareProcess(ctx, process, 15*time.Minute))
	require.NoError(t, s.IssuePin(ctx, "proc-1", "bob", []byte("bobpub"), "123456"))
	return "proc-1"
}

func TestSubmitPinHappyPath(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := shareFixture(t, s)

	confirmed, err := s.SubmitPin(ctx, id, "123456", 5)
	require.NoError(t, err)
	assert.Equal(t, models.SharePinConfirmed, confirmed.State)
	assert.Equal(t, "bob", confirmed.CandidateID)
	assert.Equal(t, []byte("bobpub"), confirmed.CandidatePublicKey)
	assert.Empty(t, confirmed.Pin)
}

func TestSubmitPinAttemptBound(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := shareFixture(t, s)

	_, err := s.SubmitPin(ctx, id, "000000", 2)
	assert.ErrorIs(t, err, relayerr.ErrAuthFailure)
	_, err = s.SubmitPin(ctx, id, "111111", 2)
	assert.ErrorIs(t, err, relayerr.ErrAuthFailure)

	// The correct PIN after the bound still fails.
	_, err = s.SubmitPin(ctx, id, "123456", 2)
	assert.ErrorIs(t, err, relayerr.ErrAttemptsExceeded)
}

func TestShareProcessExpiry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })
	id := shareFixture(t, s)

	s.SetClock(func() time.Time { return base.Add(time.Hour) })
	_, err := s.GetShareProcess(ctx, id)
	assert.ErrorIs(t, err, relayerr.ErrExpired)
	_, err = s.SubmitPin(ctx, id, "123456", 5)
	assert.ErrorIs(t, err, relayerr.ErrExpired)
}

func TestCompleteShareProcessPurges(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	id := shareFixture(t, s)

	_, err := s.SubmitPin(ctx, id, "123456", 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkDelivered(ctx, id))
	require.NoError(t, s.CompleteShareProcess(ctx, id))

	_, err = s.GetShareProcess(ctx, id)
	assert.ErrorIs(t, err, relayerr.ErrExpired)
}

func TestMessagesOrderedAndExpiring(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })

	session := models.ContactSession{SessionID: "sess-1", TagID: "tag-1", Token: "tok"}
	require.NoError(t, s.CreateContactSession(ctx, session, time.Hour))

	second := models.Message{MessageID: "m2", SessionID: "sess-1", CreatedAt: base.Add(time.Minute)}
	first := models.Message{MessageID: "m1", SessionID: "sess-1", CreatedAt: base}
	require.NoError(t, s.SaveMessage(ctx, second, time.Hour))
	require.NoError(t, s.SaveMessage(ctx, first, 30*time.Second))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].MessageID)
	assert.Equal(t, "m2", msgs[1].MessageID)

	s.SetClock(func() time.Time { return base.Add(time.Minute) })
	msgs, err = s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].MessageID)
}
