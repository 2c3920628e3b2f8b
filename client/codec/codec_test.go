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

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrelay/tagrelay/client/crypto"
)

func mustKeypair(t *testing.T) *crypto.Keypair {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func TestEncodeDecodeAllRecipients(t *testing.T) {
	sender := mustKeypair(t)
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	payload, err := Encode([]byte("found your keys at the station"), sender,
		[]crypto.PublicKey{alice.Public, bob.Public})
	require.NoError(t, err)
	require.Len(t, payload.WrappedKeys, 2)

	for _, recipient := range []*crypto.Keypair{alice, bob} {
		plaintext, err := Decode(payload, recipient)
		require.NoError(t, err)
		assert.Equal(t, []byte("found your keys at the station"), plaintext)
	}
}

func TestDecodeNotARecipient(t *testing.T) {
	sender := mustKeypair(t)
	alice := mustKeypair(t)
	eve := mustKeypair(t)

	payload, err := Encode([]byte("secret"), sender, []crypto.PublicKey{alice.Public})
	require.NoError(t, err)

	_, err = Decode(payload, eve)
	assert.ErrorIs(t, err, ErrNotARecipient)
}

func TestDecodeTamperedContent(t *testing.T) {
	sender := mustKeypair(t)
	alice := mustKeypair(t)

	payload, err := Encode([]byte("secret"), sender, []crypto.PublicKey{alice.Public})
	require.NoError(t, err)

	payload.Ciphertext[0] ^= 0xff
	_, err = Decode(payload, alice)
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestReplyReachesOnlyOriginalSender(t *testing.T) {
	finder := mustKeypair(t)
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	inbound, err := Encode([]byte("is this yours?"), finder,
		[]crypto.PublicKey{alice.Public, bob.Public})
	require.NoError(t, err)

	reply, err := EncodeReply([]byte("yes, please hold it"), alice, inbound)
	require.NoError(t, err)

	plaintext, err := Decode(reply, finder)
	require.NoError(t, err)
	assert.Equal(t, []byte("yes, please hold it"), plaintext)

	// Co-owners are not recipients of the reply.
	_, err = Decode(reply, bob)
	assert.ErrorIs(t, err, ErrNotARecipient)
}

func TestMarshalRoundTrip(t *testing.T) {
	sender := mustKeypair(t)
	alice := mustKeypair(t)

	payload, err := Encode([]byte("opaque to the relay"), sender, []crypto.PublicKey{alice.Public})
	require.NoError(t, err)

	wire, err := Marshal(payload)
	require.NoError(t, err)

	parsed, err := Unmarshal(wire)
	require.NoError(t, err)

	plaintext, err := Decode(parsed, alice)
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque to the relay"), plaintext)
}

func TestEncodeRequiresRecipients(t *testing.T) {
	sender := mustKeypair(t)
	_, err := Encode([]byte("x"), sender, nil)
	assert.Error(t, err)
}
