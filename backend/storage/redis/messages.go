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
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
)

const (
	contactPrefix      = "contact:sess:"  // contact:sess:{sessionId} -> ContactSession JSON
	messagePrefix      = "contact:msg:"   // contact:msg:{messageId} -> Message JSON
	messageQueuePrefix = "contact:queue:" // contact:queue:{sessionId} -> list of message IDs
)

// MessageStore relays opaque ciphertext between finders and owners. The
// payloads carry their own encryption; nothing here can open them.
type MessageStore struct {
	rdb *redis.Client
}

func NewMessageStore(rdb *redis.Client) *MessageStore {
	return &MessageStore{rdb: rdb}
}

func (s *MessageStore) CreateContactSession(ctx context.Context, session models.ContactSession, ttl time.Duration) error {
	data, err := json.Marshal(struct {
		models.ContactSession
		StoredToken string `json:"stored_token"`
	}{session, session.Token})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, contactPrefix+session.SessionID, data, ttl).Err()
}

func (s *MessageStore) GetContactSession(ctx context.Context, sessionID string) (*models.ContactSession, error) {
	data, err := s.rdb.Get(ctx, contactPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, relayerr.ErrExpired
		}
		return nil, err
	}
	var rec struct {
		models.ContactSession
		StoredToken string `json:"stored_token"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	session := rec.ContactSession
	session.Token = rec.StoredToken
	return &session, nil
}

func (s *MessageStore) SaveMessage(ctx context.Context, msg models.Message, ttl time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, messagePrefix+msg.MessageID, data, ttl).Err(); err != nil {
		return err
	}

	queueKey := messageQueuePrefix + msg.SessionID
	if err := s.rdb.RPush(ctx, queueKey, msg.MessageID).Err(); err != nil {
		return err
	}
	// Keep the queue at least as long as its longest-lived message.
	queueTTL := s.rdb.TTL(ctx, queueKey).Val()
	if queueTTL < ttl {
		s.rdb.Expire(ctx, queueKey, ttl)
	}

	return nil
}

func (s *MessageStore) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	queueKey := messageQueuePrefix + sessionID
	messageIDs, err := s.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		data, err := s.rdb.Get(ctx, messagePrefix+messageID).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired individually
			}
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}
