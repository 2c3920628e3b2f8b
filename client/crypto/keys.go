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

// Package crypto holds every primitive the protocol runs on client
// devices: identity derivation, keypair generation and the sealed-box
// construction used for key blobs. Nothing in this package ever talks to
// the relay; private keys created here do not leave the process.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size of all curve25519 keys in the protocol.
const KeySize = 32

type PublicKey [KeySize]byte

type PrivateKey [KeySize]byte

// Keypair is a curve25519 keypair. Tag keypairs and finder ephemerals are
// generated randomly; owner identities are derived (see identity.go).
type Keypair struct {
	Public  PublicKey
	Private PrivateKey
}

var ErrInvalidKey = errors.New("invalid key length")

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var key PublicKey
	if len(b) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], b)
	return key, nil
}

func (k PublicKey) Bytes() []byte { return append([]byte(nil), k[:]...) }

// GenerateKeypair returns a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	kp := &Keypair{}
	copy(kp.Public[:], pub[:])
	copy(kp.Private[:], priv[:])
	return kp, nil
}

// Seal encrypts data to a recipient public key with an anonymous sealed
// box: the sender is unlinkable and only the recipient keypair can open
// the result.
func Seal(data []byte, recipient PublicKey) ([]byte, error) {
	return box.SealAnonymous(nil, data, (*[KeySize]byte)(&recipient), rand.Reader)
}

// Open decrypts a sealed box with the recipient keypair. Authentication
// failure means the blob was not sealed to this keypair.
func Open(blob []byte, recipient *Keypair) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, blob, (*[KeySize]byte)(&recipient.Public), (*[KeySize]byte)(&recipient.Private))
	if !ok {
		return nil, errors.New("sealed box does not open under this key")
	}
	return plaintext, nil
}

// SealKeyBlob encrypts a tag private key to one owner's public key. The
// result is what the relay stores as a KeyBlob.
func SealKeyBlob(tagPrivate PrivateKey, owner PublicKey) ([]byte, error) {
	return Seal(tagPrivate[:], owner)
}

// OpenKeyBlob recovers a tag private key from a KeyBlob using the owner's
// keypair, and rederives the matching public key.
func OpenKeyBlob(blob []byte, owner *Keypair) (*Keypair, error) {
	raw, err := Open(blob, owner)
	if err != nil {
		return nil, fmt.Errorf("opening key blob: %w", err)
	}
	if len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	kp := &Keypair{}
	copy(kp.Private[:], raw)
	pub, err := publicFromPrivate(kp.Private)
	if err != nil {
		return nil, err
	}
	kp.Public = pub
	return kp, nil
}
