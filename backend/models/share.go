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

// ShareState is the PIN-confirmed owner-addition state machine. Expired is
// reachable from any non-terminal state by TTL elapse; the relay's TTL is
// the single source of truth for expiry since initiator and candidate act
// from independent sessions.
type ShareState string

const (
	ShareInitiated        ShareState = "initiated"
	SharePinIssued        ShareState = "pin_issued"
	SharePinConfirmed     ShareState = "pin_confirmed"
	ShareKeyBlobDelivered ShareState = "key_blob_delivered"
	ShareCompleted        ShareState = "completed"
	ShareExpired          ShareState = "expired"
)

// ShareProcess is the transient record coordinating one owner addition.
// Pin and all process metadata are purged on completion or expiry; only
// the delivered KeyBlob survives as a durable membership record.
type ShareProcess struct {
	ProcessID          string     `json:"process_id"`
	TagIDs             []string   `json:"tag_ids"`
	State              ShareState `json:"state"`
	Pin                string     `json:"-"`
	PinAttempts        int        `json:"-"`
	InitiatorID        string     `json:"initiator_id"`
	CandidateID        string     `json:"candidate_id,omitempty"`
	CandidatePublicKey []byte     `json:"candidate_public_key,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
}
