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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

// Domain separation strings. Changing any of these orphans every derived
// identity, so they are versioned.
const (
	usernameDomain = "tagrelay.username.v1"
	passwordDomain = "tagrelay.password.v1"
	identityDomain = "tagrelay.identity.v1"
)

// argon2id parameters for identity derivation. Memory-hard on purpose:
// the derived scalar is the owner's standing private key and the inputs
// are human-chosen.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// Identity is an owner's standing identity. The private key exists only
// on the device that derived it; the relay sees the username hash and the
// public key, nothing else.
type Identity struct {
	UsernameHash string
	Keypair      Keypair
}

// HashUsername produces the pseudonymous owner id. This is the only form
// of the username that ever reaches the relay.
func HashUsername(username string) string {
	sum := sha256.Sum256([]byte(usernameDomain + "|" + normalize(username)))
	return hex.EncodeToString(sum[:])
}

// HashPassword produces the client-side pre-hash submitted at onboarding
// and login. The relay bcrypts this value with its own salt; the raw
// password never leaves the client.
func HashPassword(username, password string) string {
	sum := sha256.Sum256([]byte(passwordDomain + "|" + normalize(username) + "|" + password))
	return hex.EncodeToString(sum[:])
}

// DeriveIdentity computes the owner keypair from the credentials and the
// server-issued entropy. Deterministic: the same three inputs always
// yield the same keypair, which is how login recovers the private key on
// a fresh device without the relay ever holding it.
func DeriveIdentity(username, password, serverEntropy string) (*Identity, error) {
	usernameHash := HashUsername(username)
	salt := sha256.Sum256([]byte(identityDomain + "|" + usernameHash + "|" + serverEntropy))

	seed := argon2.IDKey([]byte(password), salt[:], argonTime, argonMemory, argonThreads, KeySize)

	var private PrivateKey
	copy(private[:], seed)
	clampScalar(&private)

	public, err := publicFromPrivate(private)
	if err != nil {
		return nil, err
	}

	return &Identity{
		UsernameHash: usernameHash,
		Keypair:      Keypair{Public: public, Private: private},
	}, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// clampScalar applies the standard curve25519 clamping so the derived
// bytes form a valid scalar.
func clampScalar(k *PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func publicFromPrivate(private PrivateKey) (PublicKey, error) {
	var public PublicKey
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, fmt.Errorf("deriving public key: %w", err)
	}
	copy(public[:], pub)
	return public, nil
}
