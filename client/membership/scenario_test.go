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

package membership

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrelay/tagrelay/backend/handlers"
	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/backend/storage/memory"
	"github.com/tagrelay/tagrelay/client/codec"
	"github.com/tagrelay/tagrelay/client/crypto"
	"github.com/tagrelay/tagrelay/client/relay"
	"github.com/tagrelay/tagrelay/client/tagkeys"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	jwt := middleware.JWTConfig{Secret: "scenario-secret", Issuer: "tagrelay-test"}
	router := handlers.NewRouter(memory.NewStore(), handlers.RouterConfig{
		JWT: jwt,
		Owner: handlers.OwnerConfig{
			JWT:                jwt,
			SessionTTL:         time.Hour,
			OnboardingTokenTTL: 10 * time.Minute,
		},
		Message: handlers.MessageConfig{
			ContactSessionTTL: time.Hour,
			MessageTTL:        time.Hour,
			MaxMessageTTL:     24 * time.Hour,
		},
		Share: handlers.ShareConfig{
			BaseURL:     "http://relay.test",
			ShareTTL:    15 * time.Minute,
			PinAttempts: 5,
		},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

// enroll runs the full two-phase onboarding plus login for a fresh owner
// and returns a ready client and the locally derived identity.
func enroll(t *testing.T, serverURL, username, password string) (*relay.Client, *crypto.Identity) {
	t.Helper()
	ctx := context.Background()

	client := relay.NewClient(serverURL, relay.WithRetryBudget(0))

	usernameHash := crypto.HashUsername(username)
	passwordHash := crypto.HashPassword(username, password)

	onboarded, err := client.Onboard(ctx, usernameHash, passwordHash)
	require.NoError(t, err)

	identity, err := crypto.DeriveIdentity(username, password, onboarded.ServerEntropy)
	require.NoError(t, err)
	require.Equal(t, usernameHash, identity.UsernameHash)

	require.NoError(t, client.RegisterKey(ctx, usernameHash, onboarded.SessionToken,
		identity.Keypair.Public.Bytes()))

	login, err := client.Login(ctx, usernameHash, passwordHash)
	require.NoError(t, err)

	// A fresh device rederives the exact same keypair from the login
	// response.
	rederived, err := crypto.DeriveIdentity(username, password, login.ServerEntropy)
	require.NoError(t, err)
	require.Equal(t, identity.Keypair, rederived.Keypair)

	return client, identity
}

func decodeAll(t *testing.T, client *relay.Client, sessionID string) []*codec.Payload {
	t.Helper()
	messages, err := client.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	payloads := make([]*codec.Payload, 0, len(messages))
	for _, msg := range messages {
		payload, err := codec.Unmarshal(msg.Payload)
		require.NoError(t, err)
		payloads = append(payloads, payload)
	}
	return payloads
}

func recipientKeys(t *testing.T, raw [][]byte) []crypto.PublicKey {
	t.Helper()
	keys := make([]crypto.PublicKey, 0, len(raw))
	for _, b := range raw {
		key, err := crypto.PublicKeyFromBytes(b)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	return keys
}

func TestLostAndFoundLifecycle(t *testing.T) {
	server := startRelay(t)
	ctx := context.Background()

	// Alice claims a tag.
	aliceClient, alice := enroll(t, server.URL, "alice", "correct horse")
	aliceTags := tagkeys.NewManager(aliceClient, alice)

	meta := []byte(`{"item":"backpack","contact":"reward offered"}`)
	claimed, err := aliceTags.Claim(ctx, "tag-1", meta)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Generation)

	recoveredMeta, err := aliceTags.Meta(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, meta, recoveredMeta)

	// A finder scans the tag and writes to the owners.
	finderClient := relay.NewClient(server.URL, relay.WithRetryBudget(0))
	session, err := finderClient.CreateContactSession(ctx, "tag-1")
	require.NoError(t, err)
	require.Len(t, session.Recipients, 1)

	finderEph, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	firstText := []byte("found your backpack at the north station")
	first, err := codec.Encode(firstText, finderEph, recipientKeys(t, session.Recipients))
	require.NoError(t, err)
	firstWire, err := codec.Marshal(first)
	require.NoError(t, err)
	_, err = finderClient.PutMessage(ctx, session.SessionID, firstWire, 0)
	require.NoError(t, err)

	// Alice reads it with her standing key and replies.
	inbox := decodeAll(t, aliceClient, session.SessionID)
	require.Len(t, inbox, 1)
	plaintext, err := codec.Decode(inbox[0], &alice.Keypair)
	require.NoError(t, err)
	assert.Equal(t, firstText, plaintext)

	replyText := []byte("thank you, I can pick it up tonight")
	reply, err := codec.EncodeReply(replyText, &alice.Keypair, inbox[0])
	require.NoError(t, err)
	replyWire, err := codec.Marshal(reply)
	require.NoError(t, err)
	_, err = aliceClient.PutMessage(ctx, session.SessionID, replyWire, 0)
	require.NoError(t, err)

	// The finder decodes the reply with the session ephemeral.
	finderView := decodeAll(t, finderClient, session.SessionID)
	require.Len(t, finderView, 2)
	plaintext, err = codec.Decode(finderView[1], finderEph)
	require.NoError(t, err)
	assert.Equal(t, replyText, plaintext)

	// Alice adds Bob through the PIN-confirmed share flow.
	bobClient, bob := enroll(t, server.URL, "bob", "battery staple")
	bobTags := tagkeys.NewManager(bobClient, bob)

	aliceCoord := NewCoordinator(aliceClient, aliceTags)
	bobCoord := NewCoordinator(bobClient, bobTags)

	share, err := aliceCoord.StartShare(ctx, []string{"tag-1"})
	require.NoError(t, err)

	accepted, err := bobCoord.AcceptShare(ctx, share.ProcessID)
	require.NoError(t, err)
	require.Len(t, accepted.Pin, 6)

	require.NoError(t, aliceCoord.ConfirmPin(ctx, share.ProcessID, accepted.Pin))

	// Bob now holds a working key blob and reads the shared metadata.
	bobKey, err := bobTags.Fetch(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, 1, bobKey.Generation)
	bobMeta, err := bobTags.Meta(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, meta, bobMeta)

	// But messages sent before he joined were never wrapped to him.
	_, err = codec.Decode(finderView[0], &bob.Keypair)
	assert.ErrorIs(t, err, codec.ErrNotARecipient)
	_, err = codec.Decode(finderView[1], &bob.Keypair)
	assert.ErrorIs(t, err, codec.ErrNotARecipient)

	// The finder refreshes the recipient set and writes again; both
	// owners can read from here on.
	refreshed, err := finderClient.GetRecipients(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, refreshed.Recipients, 2)

	secondText := []byte("left it with the station staff")
	second, err := codec.Encode(secondText, finderEph, recipientKeys(t, refreshed.Recipients))
	require.NoError(t, err)
	secondWire, err := codec.Marshal(second)
	require.NoError(t, err)
	_, err = finderClient.PutMessage(ctx, session.SessionID, secondWire, 0)
	require.NoError(t, err)

	bobInbox := decodeAll(t, bobClient, session.SessionID)
	require.Len(t, bobInbox, 3)
	for _, owner := range []*crypto.Identity{alice, bob} {
		plaintext, err := codec.Decode(bobInbox[2], &owner.Keypair)
		require.NoError(t, err)
		assert.Equal(t, secondText, plaintext)
	}

	// Alice removes Bob: the tag key rotates and his access ends.
	require.NoError(t, aliceCoord.RemoveOwner(ctx, "tag-1", bob.UsernameHash))

	_, err = bobTags.Fetch(ctx, "tag-1")
	assert.ErrorIs(t, err, relayerr.ErrNotAuthorized)

	rotated, err := aliceTags.Fetch(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.Generation)
	assert.NotEqual(t, claimed.Keypair.Private, rotated.Keypair.Private)

	// The metadata survived the rotation, resealed under the new key.
	metaAfter, err := aliceTags.Meta(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, meta, metaAfter)
}

func TestRemovedOwnerCannotRotateBack(t *testing.T) {
	server := startRelay(t)
	ctx := context.Background()

	aliceClient, alice := enroll(t, server.URL, "alice", "correct horse")
	bobClient, bob := enroll(t, server.URL, "bob", "battery staple")

	aliceTags := tagkeys.NewManager(aliceClient, alice)
	bobTags := tagkeys.NewManager(bobClient, bob)
	aliceCoord := NewCoordinator(aliceClient, aliceTags)
	bobCoord := NewCoordinator(bobClient, bobTags)

	_, err := aliceTags.Claim(ctx, "tag-1", []byte("meta"))
	require.NoError(t, err)

	share, err := aliceCoord.StartShare(ctx, []string{"tag-1"})
	require.NoError(t, err)
	accepted, err := bobCoord.AcceptShare(ctx, share.ProcessID)
	require.NoError(t, err)
	require.NoError(t, aliceCoord.ConfirmPin(ctx, share.ProcessID, accepted.Pin))

	require.NoError(t, aliceCoord.RemoveOwner(ctx, "tag-1", bob.UsernameHash))

	// Bob's stale key blob is gone; he cannot remove Alice either.
	err = bobCoord.RemoveOwner(ctx, "tag-1", alice.UsernameHash)
	assert.Error(t, err)

	owners, err := aliceClient.ListTagOwners(ctx, "tag-1")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.UsernameHash}, owners)
}
