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

// Package memory provides an in-process relay store for development and
// tests. It mirrors the postgres/redis semantics, including per-tag
// serialization and TTL-driven expiry, without external services.
package memory

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
	"github.com/tagrelay/tagrelay/backend/storage"
)

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

type tokenRecord struct {
	usernameHash string
	expiresAt    time.Time
	consumed     bool
}

type shareRecord struct {
	process   models.ShareProcess
	pin       string
	attempts  int
	expiresAt time.Time
}

type Store struct {
	mu sync.Mutex

	owners   map[string]models.Owner
	tokens   map[string]*tokenRecord
	tags     map[string]models.Tag
	blobs    map[string]map[string]models.KeyBlob // tagID -> ownerID -> blob
	sessions map[string]models.ContactSession
	messages map[string][]models.Message // sessionID -> messages
	shares   map[string]*shareRecord

	// now is swappable so expiry paths are testable.
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		owners:   make(map[string]models.Owner),
		tokens:   make(map[string]*tokenRecord),
		tags:     make(map[string]models.Tag),
		blobs:    make(map[string]map[string]models.KeyBlob),
		sessions: make(map[string]models.ContactSession),
		messages: make(map[string][]models.Message),
		shares:   make(map[string]*shareRecord),
		now:      time.Now,
	}
}

// SetClock replaces the store's time source. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Owners

func (s *Store) CreateOwner(ctx context.Context, owner models.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[owner.UsernameHash]; ok {
		return relayerr.ErrConflict
	}
	owner.CreatedAt = s.now()
	s.owners[owner.UsernameHash] = owner
	return nil
}

func (s *Store) GetOwner(ctx context.Context, usernameHash string) (*models.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[usernameHash]
	if !ok {
		return nil, relayerr.ErrNotFound
	}
	return &owner, nil
}

func (s *Store) ActivateOwner(ctx context.Context, usernameHash string, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[usernameHash]
	if !ok || owner.State != models.OwnerOnboarding {
		return relayerr.ErrNotFound
	}
	owner.PublicKey = publicKey
	owner.State = models.OwnerActive
	s.owners[usernameHash] = owner
	return nil
}

func (s *Store) MarkOwnerForDeletion(ctx context.Context, usernameHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[usernameHash]
	if !ok || owner.State != models.OwnerActive {
		return relayerr.ErrNotFound
	}
	owner.State = models.OwnerInDeletion
	s.owners[usernameHash] = owner
	return nil
}

// Onboarding tokens

func (s *Store) SaveOnboardingToken(ctx context.Context, token, usernameHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = &tokenRecord{
		usernameHash: usernameHash,
		expiresAt:    s.now().Add(ttl),
	}
	return nil
}

func (s *Store) ConsumeOnboardingToken(ctx context.Context, token, usernameHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return relayerr.ErrTokenExpired
	}
	if rec.consumed {
		return relayerr.ErrTokenConsumed
	}
	if s.now().After(rec.expiresAt) {
		return relayerr.ErrTokenExpired
	}
	rec.consumed = true
	if subtle.ConstantTimeCompare([]byte(rec.usernameHash), []byte(usernameHash)) != 1 {
		return relayerr.ErrAuthFailure
	}
	return nil
}

// Tags and key blobs

func (s *Store) ClaimTag(ctx context.Context, tag models.Tag, blob models.KeyBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[tag.TagID]; ok {
		return relayerr.ErrAlreadyClaimed
	}
	now := s.now()
	tag.Generation = 1
	tag.CreatedAt = now
	tag.UpdatedAt = now
	s.tags[tag.TagID] = tag

	blob.TagID = tag.TagID
	blob.Generation = 1
	blob.CreatedAt = now
	s.blobs[tag.TagID] = map[string]models.KeyBlob{blob.OwnerID: blob}
	return nil
}

func (s *Store) GetTag(ctx context.Context, tagID string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, ok := s.tags[tagID]
	if !ok {
		return nil, relayerr.ErrNotFound
	}
	return &tag, nil
}

func (s *Store) GetKeyBlob(ctx context.Context, tagID, ownerID string) (*models.KeyBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.blobs[tagID][ownerID]
	if !ok {
		return nil, relayerr.ErrNotAuthorized
	}
	return &blob, nil
}

func (s *Store) ListTagOwners(ctx context.Context, tagID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.blobs[tagID]
	if !ok || len(set) == 0 {
		return nil, relayerr.ErrNotFound
	}
	owners := make([]string, 0, len(set))
	for ownerID := range set {
		owners = append(owners, ownerID)
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *Store) AddKeyBlob(ctx context.Context, blob models.KeyBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, ok := s.tags[blob.TagID]
	if !ok {
		return relayerr.ErrNotFound
	}
	if blob.Generation != tag.Generation {
		return relayerr.ErrGenerationConflict
	}
	if _, ok := s.blobs[blob.TagID][blob.OwnerID]; ok {
		return relayerr.ErrConflict
	}
	blob.CreatedAt = s.now()
	s.blobs[blob.TagID][blob.OwnerID] = blob
	return nil
}

func (s *Store) CommitRotation(ctx context.Context, commit models.RotationCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, ok := s.tags[commit.TagID]
	if !ok {
		return relayerr.ErrNotFound
	}
	if commit.ExpectedGeneration != tag.Generation {
		return relayerr.ErrGenerationConflict
	}

	current := s.blobs[commit.TagID]
	if _, ok := current[commit.PerformerID]; !ok || commit.PerformerID == commit.RemovedOwnerID {
		return relayerr.ErrNotAuthorized
	}
	if _, ok := current[commit.RemovedOwnerID]; !ok {
		return relayerr.ErrNotFound
	}

	newGeneration := tag.Generation + 1
	submitted := make(map[string]models.KeyBlob, len(commit.KeyBlobs))
	for _, blob := range commit.KeyBlobs {
		if blob.TagID != commit.TagID || blob.Generation != newGeneration {
			return relayerr.ErrIncompleteRotation
		}
		if blob.OwnerID == commit.RemovedOwnerID {
			return relayerr.ErrIncompleteRotation
		}
		if _, ok := current[blob.OwnerID]; !ok {
			return relayerr.ErrIncompleteRotation
		}
		if _, dup := submitted[blob.OwnerID]; dup {
			return relayerr.ErrIncompleteRotation
		}
		submitted[blob.OwnerID] = blob
	}
	if len(submitted) != len(current)-1 {
		return relayerr.ErrIncompleteRotation
	}

	now := s.now()
	tag.Generation = newGeneration
	tag.PublicKey = commit.NewPublicKey
	tag.EncryptedMeta = commit.NewEncryptedMeta
	tag.UpdatedAt = now
	s.tags[commit.TagID] = tag

	replacement := make(map[string]models.KeyBlob, len(submitted))
	for ownerID, blob := range submitted {
		blob.CreatedAt = now
		replacement[ownerID] = blob
	}
	s.blobs[commit.TagID] = replacement
	return nil
}

// Contact sessions and messages

func (s *Store) CreateContactSession(ctx context.Context, session models.ContactSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.CreatedAt = s.now()
	session.ExpiresAt = session.CreatedAt.Add(ttl)
	s.sessions[session.SessionID] = session
	return nil
}

func (s *Store) GetContactSession(ctx context.Context, sessionID string) (*models.ContactSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, relayerr.ErrExpired
	}
	if s.now().After(session.ExpiresAt) {
		delete(s.sessions, sessionID)
		return nil, relayerr.ErrExpired
	}
	return &session, nil
}

func (s *Store) SaveMessage(ctx context.Context, msg models.Message, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ExpiresAt = s.now().Add(ttl)
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var alive []models.Message
	for _, msg := range s.messages[sessionID] {
		if now.After(msg.ExpiresAt) {
			continue
		}
		alive = append(alive, msg)
	}
	sort.Slice(alive, func(i, j int) bool {
		return alive[i].CreatedAt.Before(alive[j].CreatedAt)
	})
	return alive, nil
}

// Share processes

func (s *Store) CreateShareProcess(ctx context.Context, process models.ShareProcess, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.shares[process.ProcessID]; ok && !s.now().After(rec.expiresAt) {
		return relayerr.ErrConflict
	}
	s.shares[process.ProcessID] = &shareRecord{
		process:   process,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *Store) GetShareProcess(ctx context.Context, processID string) (*models.ShareProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveShare(processID)
	if err != nil {
		return nil, err
	}
	process := rec.process
	process.Pin = ""
	process.PinAttempts = rec.attempts
	return &process, nil
}

func (s *Store) IssuePin(ctx context.Context, processID, candidateID string, candidatePublicKey []byte, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveShare(processID)
	if err != nil {
		return err
	}
	if rec.process.State != models.ShareInitiated {
		return relayerr.ErrConflict
	}
	if candidateID == rec.process.InitiatorID {
		return relayerr.ErrNotAuthorized
	}
	rec.process.State = models.SharePinIssued
	rec.process.CandidateID = candidateID
	rec.process.CandidatePublicKey = candidatePublicKey
	rec.pin = pin
	return nil
}

func (s *Store) SubmitPin(ctx context.Context, processID, pin string, maxAttempts int) (*models.ShareProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveShare(processID)
	if err != nil {
		return nil, err
	}
	if rec.process.State != models.SharePinIssued {
		return nil, relayerr.ErrConflict
	}
	if rec.attempts >= maxAttempts {
		return nil, relayerr.ErrAttemptsExceeded
	}
	if subtle.ConstantTimeCompare([]byte(rec.pin), []byte(pin)) != 1 {
		rec.attempts++
		return nil, relayerr.ErrAuthFailure
	}
	rec.process.State = models.SharePinConfirmed
	process := rec.process
	process.Pin = ""
	return &process, nil
}

func (s *Store) MarkDelivered(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveShare(processID)
	if err != nil {
		return err
	}
	if rec.process.State != models.SharePinConfirmed {
		return relayerr.ErrConflict
	}
	rec.process.State = models.ShareKeyBlobDelivered
	return nil
}

func (s *Store) CompleteShareProcess(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.shares, processID)
	return nil
}

func (s *Store) liveShare(processID string) (*shareRecord, error) {
	rec, ok := s.shares[processID]
	if !ok {
		return nil, relayerr.ErrExpired
	}
	if s.now().After(rec.expiresAt) {
		delete(s.shares, processID)
		return nil, relayerr.ErrExpired
	}
	return rec, nil
}
