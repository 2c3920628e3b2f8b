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

	"github.com/lib/pq"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
)

func (s *Store) ClaimTag(ctx context.Context, tag models.Tag, blob models.KeyBlob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tags (tag_id, public_key, generation, encrypted_meta, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $4)`,
		tag.TagID, tag.PublicKey, tag.EncryptedMeta, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return relayerr.ErrAlreadyClaimed
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_blobs (tag_id, owner_id, generation, ciphertext, created_at)
		VALUES ($1, $2, 1, $3, $4)`,
		tag.TagID, blob.OwnerID, blob.Ciphertext, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetTag(ctx context.Context, tagID string) (*models.Tag, error) {
	tag := &models.Tag{}
	err := s.db.QueryRowContext(ctx, `
		SELECT tag_id, public_key, generation, encrypted_meta, created_at, updated_at
		FROM tags WHERE tag_id = $1`, tagID).Scan(
		&tag.TagID, &tag.PublicKey, &tag.Generation, &tag.EncryptedMeta,
		&tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, relayerr.ErrNotFound
		}
		return nil, err
	}
	return tag, nil
}

func (s *Store) GetKeyBlob(ctx context.Context, tagID, ownerID string) (*models.KeyBlob, error) {
	blob := &models.KeyBlob{}
	err := s.db.QueryRowContext(ctx, `
		SELECT tag_id, owner_id, generation, ciphertext, created_at
		FROM key_blobs WHERE tag_id = $1 AND owner_id = $2`, tagID, ownerID).Scan(
		&blob.TagID, &blob.OwnerID, &blob.Generation, &blob.Ciphertext, &blob.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, relayerr.ErrNotAuthorized
		}
		return nil, err
	}
	return blob, nil
}

func (s *Store) ListTagOwners(ctx context.Context, tagID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM key_blobs WHERE tag_id = $1 ORDER BY created_at`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var ownerID string
		if err := rows.Scan(&ownerID); err != nil {
			return nil, err
		}
		owners = append(owners, ownerID)
	}
	if len(owners) == 0 {
		return nil, relayerr.ErrNotFound
	}
	return owners, rows.Err()
}

// AddKeyBlob inserts an additional blob at the tag's current generation.
// The tag row is locked so two additions racing on the same generation
// serialize; a stale generation in the blob fails the insert.
func (s *Store) AddKeyBlob(ctx context.Context, blob models.KeyBlob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var generation int
	err = tx.QueryRowContext(ctx, `
		SELECT generation FROM tags WHERE tag_id = $1 FOR UPDATE`, blob.TagID).Scan(&generation)
	if err != nil {
		if err == sql.ErrNoRows {
			return relayerr.ErrNotFound
		}
		return err
	}
	if blob.Generation != generation {
		return relayerr.ErrGenerationConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO key_blobs (tag_id, owner_id, generation, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		blob.TagID, blob.OwnerID, blob.Generation, blob.Ciphertext, time.Now())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return relayerr.ErrConflict
		}
		return err
	}

	return tx.Commit()
}

// CommitRotation swaps the tag to the next generation. Runs entirely in one
// transaction with the tag row locked: the expected generation is the
// compare-and-swap guard, the submitted blob set must cover exactly the
// remaining owners, and all prior-generation blobs are deleted before the
// commit. A rotation that cannot produce a complete blob set commits
// nothing.
func (s *Store) CommitRotation(ctx context.Context, commit models.RotationCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var generation int
	err = tx.QueryRowContext(ctx, `
		SELECT generation FROM tags WHERE tag_id = $1 FOR UPDATE`, commit.TagID).Scan(&generation)
	if err != nil {
		if err == sql.ErrNoRows {
			return relayerr.ErrNotFound
		}
		return err
	}
	if commit.ExpectedGeneration != generation {
		return relayerr.ErrGenerationConflict
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT owner_id FROM key_blobs WHERE tag_id = $1`, commit.TagID)
	if err != nil {
		return err
	}
	current := make(map[string]bool)
	for rows.Next() {
		var ownerID string
		if err := rows.Scan(&ownerID); err != nil {
			rows.Close()
			return err
		}
		current[ownerID] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if !current[commit.PerformerID] || commit.PerformerID == commit.RemovedOwnerID {
		return relayerr.ErrNotAuthorized
	}
	if !current[commit.RemovedOwnerID] {
		return relayerr.ErrNotFound
	}

	// The new blob set must be exactly the current owners minus the
	// removed one, each appearing once at the new generation.
	submitted := make(map[string]bool)
	newGeneration := generation + 1
	for _, blob := range commit.KeyBlobs {
		if blob.TagID != commit.TagID || blob.Generation != newGeneration {
			return relayerr.ErrIncompleteRotation
		}
		if blob.OwnerID == commit.RemovedOwnerID || !current[blob.OwnerID] || submitted[blob.OwnerID] {
			return relayerr.ErrIncompleteRotation
		}
		submitted[blob.OwnerID] = true
	}
	if len(submitted) != len(current)-1 {
		return relayerr.ErrIncompleteRotation
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tags SET public_key = $2, generation = $3, encrypted_meta = $4, updated_at = $5
		WHERE tag_id = $1`,
		commit.TagID, commit.NewPublicKey, newGeneration, commit.NewEncryptedMeta, time.Now())
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM key_blobs WHERE tag_id = $1 AND generation <= $2`,
		commit.TagID, generation)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, blob := range commit.KeyBlobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO key_blobs (tag_id, owner_id, generation, ciphertext, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			blob.TagID, blob.OwnerID, blob.Generation, blob.Ciphertext, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}
