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

package models

import "time"

// OwnerState tracks the lifecycle of an owner record.
type OwnerState string

const (
	OwnerOnboarding OwnerState = "onboarding"  // phase 1 done, no public key yet
	OwnerActive     OwnerState = "active"      // phase 2 done, usable for login
	OwnerInDeletion OwnerState = "in_deletion" // deletion requested, account unusable
)

// Owner is the relay's record of a pseudonymous identity. The relay only
// ever sees hashes: the username hash is the owner's identifier everywhere,
// and the password hash stored here is a server-side bcrypt of the hash the
// client submitted. The owner's private key never appears in this model.
type Owner struct {
	UsernameHash  string     `json:"username_hash" db:"username_hash"`
	PasswordHash  []byte     `json:"-" db:"password_hash"`
	ServerEntropy string     `json:"-" db:"server_entropy"`
	PublicKey     []byte     `json:"public_key" db:"public_key"`
	State         OwnerState `json:"state" db:"state"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// OnboardingToken is the single-use, short-TTL token issued after phase 1
// of onboarding. It is bound to the username hash it was issued for and is
// consumed exactly once by key registration.
type OnboardingToken struct {
	Token        string    `json:"token"`
	UsernameHash string    `json:"username_hash"`
	ExpiresAt    time.Time `json:"expires_at"`
}
