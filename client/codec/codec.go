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

// Package codec implements the multi-recipient message encoding used on
// contact sessions. A message is encrypted once under a random session
// key, and the session key is wrapped separately to each recipient's
// standing public key. The relay only ever sees the marshaled payload.
package codec

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/tagrelay/tagrelay/client/crypto"
)

const (
	nonceSize      = 24
	sessionKeySize = 32
)

// ErrNotARecipient is returned by Decode when none of the wrapped keys
// opens under the caller's keypair. The caller was not in the recipient
// set when the message was encoded.
var ErrNotARecipient = errors.New("no wrapped key opens under this keypair")

// ErrIntegrityFailure is returned when a wrapped key unwraps but the
// content does not authenticate, which means the payload was tampered
// with or corrupted in transit.
var ErrIntegrityFailure = errors.New("message content failed authentication")

// WrappedKey is the session key encrypted to one recipient.
type WrappedKey struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Payload is the wire form of an encoded message. SenderPublicKey is the
// ephemeral key the wraps were made under; recipients need it to unwrap,
// and it is what a reply is addressed to.
type Payload struct {
	Version         int          `json:"v"`
	SenderPublicKey []byte       `json:"sender_public_key"`
	WrappedKeys     []WrappedKey `json:"wrapped_keys"`
	Nonce           []byte       `json:"nonce"`
	Ciphertext      []byte       `json:"ciphertext"`
}

// Encode encrypts plaintext to every recipient. The sender keypair is
// either a finder's per-session ephemeral or an owner's identity keypair;
// only its public half appears in the payload.
func Encode(plaintext []byte, sender *crypto.Keypair, recipients []crypto.PublicKey) (*Payload, error) {
	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient required")
	}

	var sessionKey [sessionKeySize]byte
	if _, err := io.ReadFull(rand.Reader, sessionKey[:]); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	var contentNonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, contentNonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := secretbox.Seal(nil, plaintext, &contentNonce, &sessionKey)

	payload := &Payload{
		Version:         1,
		SenderPublicKey: sender.Public.Bytes(),
		WrappedKeys:     make([]WrappedKey, 0, len(recipients)),
		Nonce:           contentNonce[:],
		Ciphertext:      ciphertext,
	}

	for _, recipient := range recipients {
		var wrapNonce [nonceSize]byte
		if _, err := io.ReadFull(rand.Reader, wrapNonce[:]); err != nil {
			return nil, fmt.Errorf("generating wrap nonce: %w", err)
		}
		wrapped := box.Seal(nil, sessionKey[:], &wrapNonce,
			(*[crypto.KeySize]byte)(&recipient),
			(*[crypto.KeySize]byte)(&sender.Private))
		payload.WrappedKeys = append(payload.WrappedKeys, WrappedKey{
			Nonce:      wrapNonce[:],
			Ciphertext: wrapped,
		})
	}

	return payload, nil
}

// Decode recovers the plaintext with the recipient's keypair. Each wrap
// is tried in turn; a message encoded before the recipient joined the
// owner set carries no wrap for them and yields ErrNotARecipient.
func Decode(payload *Payload, recipient *crypto.Keypair) ([]byte, error) {
	senderKey, err := crypto.PublicKeyFromBytes(payload.SenderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("sender key: %w", err)
	}
	if len(payload.Nonce) != nonceSize {
		return nil, errors.New("malformed content nonce")
	}

	var sessionKey [sessionKeySize]byte
	found := false
	for _, wrap := range payload.WrappedKeys {
		if len(wrap.Nonce) != nonceSize {
			continue
		}
		var wrapNonce [nonceSize]byte
		copy(wrapNonce[:], wrap.Nonce)
		raw, ok := box.Open(nil, wrap.Ciphertext, &wrapNonce,
			(*[crypto.KeySize]byte)(&senderKey),
			(*[crypto.KeySize]byte)(&recipient.Private))
		if ok && len(raw) == sessionKeySize {
			copy(sessionKey[:], raw)
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotARecipient
	}

	var contentNonce [nonceSize]byte
	copy(contentNonce[:], payload.Nonce)
	plaintext, ok := secretbox.Open(nil, payload.Ciphertext, &contentNonce, &sessionKey)
	if !ok {
		return nil, ErrIntegrityFailure
	}
	return plaintext, nil
}

// EncodeReply encodes plaintext to the sender of a previously decoded
// payload. Replies are single-recipient: only the original sender's
// ephemeral (or identity) key can open them.
func EncodeReply(plaintext []byte, replier *crypto.Keypair, original *Payload) (*Payload, error) {
	senderKey, err := crypto.PublicKeyFromBytes(original.SenderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("sender key: %w", err)
	}
	return Encode(plaintext, replier, []crypto.PublicKey{senderKey})
}

// Marshal serializes a payload for relay storage.
func Marshal(payload *Payload) ([]byte, error) {
	return json.Marshal(payload)
}

// Unmarshal parses a payload fetched from the relay.
func Unmarshal(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return &payload, nil
}
