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

package redis

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
)

const sharePrefix = "share:proc:" // share:proc:{processId} -> ShareProcess JSON

// ShareStore keeps the transient share-process state machine. The record
// lives under a single TTL'd key: when the key is gone the process is
// expired (or completed) and every transition fails closed. Initiator and
// candidate act from independent sessions, so all transitions go through
// WATCH transactions on the process key.
type ShareStore struct {
	rdb *redis.Client
}

func NewShareStore(rdb *redis.Client) *ShareStore {
	return &ShareStore{rdb: rdb}
}

// shareRecord is the stored form; unlike the API model it carries the PIN
// and attempt counter.
type shareRecord struct {
	models.ShareProcess
	StoredPin      string `json:"stored_pin,omitempty"`
	StoredAttempts int    `json:"stored_attempts"`
}

func (s *ShareStore) CreateShareProcess(ctx context.Context, process models.ShareProcess, ttl time.Duration) error {
	rec := shareRecord{ShareProcess: process}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, sharePrefix+process.ProcessID, data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return relayerr.ErrConflict
	}
	return nil
}

func (s *ShareStore) GetShareProcess(ctx context.Context, processID string) (*models.ShareProcess, error) {
	rec, err := s.get(ctx, processID)
	if err != nil {
		return nil, err
	}
	process := rec.ShareProcess
	process.Pin = ""
	process.PinAttempts = rec.StoredAttempts
	return &process, nil
}

func (s *ShareStore) IssuePin(ctx context.Context, processID, candidateID string, candidatePublicKey []byte, pin string) error {
	return s.update(ctx, processID, func(rec *shareRecord) error {
		if rec.State != models.ShareInitiated {
			return relayerr.ErrConflict
		}
		if candidateID == rec.InitiatorID {
			return relayerr.ErrNotAuthorized
		}
		rec.State = models.SharePinIssued
		rec.CandidateID = candidateID
		rec.CandidatePublicKey = candidatePublicKey
		rec.StoredPin = pin
		return nil
	})
}

func (s *ShareStore) SubmitPin(ctx context.Context, processID, pin string, maxAttempts int) (*models.ShareProcess, error) {
	var confirmed *models.ShareProcess
	err := s.update(ctx, processID, func(rec *shareRecord) error {
		if rec.State != models.SharePinIssued {
			return relayerr.ErrConflict
		}
		// The bound is checked before the comparison: once exceeded,
		// even a correct PIN is rejected.
		if rec.StoredAttempts >= maxAttempts {
			return relayerr.ErrAttemptsExceeded
		}
		if subtle.ConstantTimeCompare([]byte(rec.StoredPin), []byte(pin)) != 1 {
			rec.StoredAttempts++
			return errPinMismatch
		}
		rec.State = models.SharePinConfirmed
		process := rec.ShareProcess
		process.Pin = ""
		confirmed = &process
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (s *ShareStore) MarkDelivered(ctx context.Context, processID string) error {
	return s.update(ctx, processID, func(rec *shareRecord) error {
		if rec.State != models.SharePinConfirmed {
			return relayerr.ErrConflict
		}
		rec.State = models.ShareKeyBlobDelivered
		return nil
	})
}

func (s *ShareStore) CompleteShareProcess(ctx context.Context, processID string) error {
	return s.rdb.Del(ctx, sharePrefix+processID).Err()
}

// errPinMismatch signals the update callback to persist the incremented
// attempt counter and still fail the submission.
var errPinMismatch = errors.New("pin mismatch")

func (s *ShareStore) get(ctx context.Context, processID string) (*shareRecord, error) {
	data, err := s.rdb.Get(ctx, sharePrefix+processID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, relayerr.ErrExpired
		}
		return nil, err
	}
	rec := &shareRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// update applies fn to the process record under a WATCH transaction,
// preserving the key's remaining TTL. A callback returning errPinMismatch
// persists the record and then surfaces ErrAuthFailure.
func (s *ShareStore) update(ctx context.Context, processID string, fn func(*shareRecord) error) error {
	key := sharePrefix + processID

	var callbackErr error
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return relayerr.ErrExpired
			}
			return err
		}

		rec := &shareRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return err
		}

		callbackErr = fn(rec)
		if callbackErr != nil && !errors.Is(callbackErr, errPinMismatch) {
			return callbackErr
		}

		newData, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		ttl := tx.TTL(ctx, key).Val()
		if ttl <= 0 {
			return relayerr.ErrExpired
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		if errors.Is(callbackErr, errPinMismatch) {
			return relayerr.ErrAuthFailure
		}
		return nil
	}

	return redis.TxFailedErr
}
