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

func (s *Store) CreateOwner(ctx context.Context, owner models.Owner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (username_hash, password_hash, server_entropy, public_key, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		owner.UsernameHash, owner.PasswordHash, owner.ServerEntropy,
		owner.PublicKey, owner.State, time.Now())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return relayerr.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetOwner(ctx context.Context, usernameHash string) (*models.Owner, error) {
	owner := &models.Owner{}
	err := s.db.QueryRowContext(ctx, `
		SELECT username_hash, password_hash, server_entropy, public_key, state, created_at
		FROM owners WHERE username_hash = $1`, usernameHash).Scan(
		&owner.UsernameHash, &owner.PasswordHash, &owner.ServerEntropy,
		&owner.PublicKey, &owner.State, &owner.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, relayerr.ErrNotFound
		}
		return nil, err
	}
	return owner, nil
}

func (s *Store) ActivateOwner(ctx context.Context, usernameHash string, publicKey []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owners SET public_key = $2, state = $3
		WHERE username_hash = $1 AND state = $4`,
		usernameHash, publicKey, models.OwnerActive, models.OwnerOnboarding)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return relayerr.ErrNotFound
	}
	return nil
}

func (s *Store) MarkOwnerForDeletion(ctx context.Context, usernameHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owners SET state = $2
		WHERE username_hash = $1 AND state = $3`,
		usernameHash, models.OwnerInDeletion, models.OwnerActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return relayerr.ErrNotFound
	}
	return nil
}
