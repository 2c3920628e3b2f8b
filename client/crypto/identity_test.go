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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIdentityDeterministic(t *testing.T) {
	a, err := DeriveIdentity("alice", "correct horse", "entropy-1")
	require.NoError(t, err)
	b, err := DeriveIdentity("alice", "correct horse", "entropy-1")
	require.NoError(t, err)

	assert.Equal(t, a.UsernameHash, b.UsernameHash)
	assert.Equal(t, a.Keypair.Private, b.Keypair.Private)
	assert.Equal(t, a.Keypair.Public, b.Keypair.Public)
}

func TestDeriveIdentityInputsMatter(t *testing.T) {
	base, err := DeriveIdentity("alice", "correct horse", "entropy-1")
	require.NoError(t, err)

	otherPassword, err := DeriveIdentity("alice", "battery staple", "entropy-1")
	require.NoError(t, err)
	assert.NotEqual(t, base.Keypair.Private, otherPassword.Keypair.Private)

	otherEntropy, err := DeriveIdentity("alice", "correct horse", "entropy-2")
	require.NoError(t, err)
	assert.NotEqual(t, base.Keypair.Private, otherEntropy.Keypair.Private)
}

func TestHashUsernameNormalizes(t *testing.T) {
	assert.Equal(t, HashUsername("Alice"), HashUsername("  alice "))
	assert.NotEqual(t, HashUsername("alice"), HashUsername("bob"))
}

func TestHashPasswordBoundToUsername(t *testing.T) {
	// The same password under two usernames must not collide.
	assert.NotEqual(t, HashPassword("alice", "pw"), HashPassword("bob", "pw"))
}

func TestKeyBlobRoundTrip(t *testing.T) {
	owner, err := GenerateKeypair()
	require.NoError(t, err)
	tag, err := GenerateKeypair()
	require.NoError(t, err)

	blob, err := SealKeyBlob(tag.Private, owner.Public)
	require.NoError(t, err)

	recovered, err := OpenKeyBlob(blob, owner)
	require.NoError(t, err)
	assert.Equal(t, tag.Private, recovered.Private)
	assert.Equal(t, tag.Public, recovered.Public)
}

func TestKeyBlobWrongKeypairFails(t *testing.T) {
	owner, err := GenerateKeypair()
	require.NoError(t, err)
	stranger, err := GenerateKeypair()
	require.NoError(t, err)
	tag, err := GenerateKeypair()
	require.NoError(t, err)

	blob, err := SealKeyBlob(tag.Private, owner.Public)
	require.NoError(t, err)

	_, err = OpenKeyBlob(blob, stranger)
	assert.Error(t, err)
}

func TestDerivedKeypairSealsAndOpens(t *testing.T) {
	// A derived identity must be a usable curve25519 keypair, not just
	// deterministic bytes.
	identity, err := DeriveIdentity("alice", "correct horse", "entropy-1")
	require.NoError(t, err)

	sealed, err := Seal([]byte("hello"), identity.Keypair.Public)
	require.NoError(t, err)

	opened, err := Open(sealed, &identity.Keypair)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), opened)
}
