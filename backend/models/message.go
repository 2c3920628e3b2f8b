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

// SenderRole distinguishes the two parties of a contact session without
// identifying either of them.
type SenderRole string

const (
	RoleFinder SenderRole = "finder"
	RoleOwner  SenderRole = "owner"
)

const (
	MessageSent = "sent"
	MessageRead = "read"
)

// Message is one relayed ciphertext in a contact session. Payload is the
// encoded broadcast-codec output and stays opaque to the relay: the wrapped
// session keys, the sender's ephemeral public key and the content
// ciphertext all live inside it.
type Message struct {
	MessageID  string     `json:"message_id"`
	SessionID  string     `json:"session_id"`
	SenderRole SenderRole `json:"sender_role"`
	Payload    []byte     `json:"payload"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// ContactSession is the anonymous channel a finder opens by scanning a
// tag. The token authorizes message relay for this session only; it is
// never linked to a finder identity because finders have none.
type ContactSession struct {
	SessionID string    `json:"session_id"`
	TagID     string    `json:"tag_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
