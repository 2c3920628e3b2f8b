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

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tagrelay/tagrelay/backend/models"
	redisStore "github.com/tagrelay/tagrelay/backend/storage/redis"
)

// Store is the production relay store: durable records (owners, tags, key
// blobs) in postgres, everything TTL-driven (onboarding tokens, share
// processes, contact sessions, relayed messages) in redis where expiry is
// native.
type Store struct {
	db       *sql.DB
	tokens   *redisStore.TokenStore
	shares   *redisStore.ShareStore
	messages *redisStore.MessageStore
}

func NewStore(db *sql.DB, rdb *redis.Client) *Store {
	return &Store{
		db:       db,
		tokens:   redisStore.NewTokenStore(rdb),
		shares:   redisStore.NewShareStore(rdb),
		messages: redisStore.NewMessageStore(rdb),
	}
}

// Redis-backed delegations.

func (s *Store) SaveOnboardingToken(ctx context.Context, token, usernameHash string, ttl time.Duration) error {
	return s.tokens.SaveOnboardingToken(ctx, token, usernameHash, ttl)
}

func (s *Store) ConsumeOnboardingToken(ctx context.Context, token, usernameHash string) error {
	return s.tokens.ConsumeOnboardingToken(ctx, token, usernameHash)
}

func (s *Store) CreateContactSession(ctx context.Context, session models.ContactSession, ttl time.Duration) error {
	return s.messages.CreateContactSession(ctx, session, ttl)
}

func (s *Store) GetContactSession(ctx context.Context, sessionID string) (*models.ContactSession, error) {
	return s.messages.GetContactSession(ctx, sessionID)
}

func (s *Store) SaveMessage(ctx context.Context, msg models.Message, ttl time.Duration) error {
	return s.messages.SaveMessage(ctx, msg, ttl)
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	return s.messages.ListMessages(ctx, sessionID)
}

func (s *Store) CreateShareProcess(ctx context.Context, process models.ShareProcess, ttl time.Duration) error {
	return s.shares.CreateShareProcess(ctx, process, ttl)
}

func (s *Store) GetShareProcess(ctx context.Context, processID string) (*models.ShareProcess, error) {
	return s.shares.GetShareProcess(ctx, processID)
}

func (s *Store) IssuePin(ctx context.Context, processID, candidateID string, candidatePublicKey []byte, pin string) error {
	return s.shares.IssuePin(ctx, processID, candidateID, candidatePublicKey, pin)
}

func (s *Store) SubmitPin(ctx context.Context, processID, pin string, maxAttempts int) (*models.ShareProcess, error) {
	return s.shares.SubmitPin(ctx, processID, pin, maxAttempts)
}

func (s *Store) MarkDelivered(ctx context.Context, processID string) error {
	return s.shares.MarkDelivered(ctx, processID)
}

func (s *Store) CompleteShareProcess(ctx context.Context, processID string) error {
	return s.shares.CompleteShareProcess(ctx, processID)
}
