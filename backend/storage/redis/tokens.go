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
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tagrelay/tagrelay/backend/relayerr"
)

const (
	tokenPrefix = "onboard:token:" // onboard:token:{token} -> usernameHash
	usedPrefix  = "onboard:used:"  // onboard:used:{token} -> tombstone for reuse detection

	// usedTombstoneTTL keeps consumed-token tombstones around long enough
	// to tell reuse apart from expiry.
	usedTombstoneTTL = 24 * time.Hour
)

// TokenStore holds the single-use onboarding tokens issued between the two
// onboarding phases. Redis TTL is the expiry authority.
type TokenStore struct {
	rdb *redis.Client
}

func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func (s *TokenStore) SaveOnboardingToken(ctx context.Context, token, usernameHash string, ttl time.Duration) error {
	return s.rdb.Set(ctx, tokenPrefix+token, usernameHash, ttl).Err()
}

func (s *TokenStore) ConsumeOnboardingToken(ctx context.Context, token, usernameHash string) error {
	bound, err := s.rdb.GetDel(ctx, tokenPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			used, exErr := s.rdb.Exists(ctx, usedPrefix+token).Result()
			if exErr != nil {
				return exErr
			}
			if used > 0 {
				return relayerr.ErrTokenConsumed
			}
			return relayerr.ErrTokenExpired
		}
		return err
	}

	if err := s.rdb.Set(ctx, usedPrefix+token, "1", usedTombstoneTTL).Err(); err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(bound), []byte(usernameHash)) != 1 {
		return relayerr.ErrAuthFailure
	}
	return nil
}
