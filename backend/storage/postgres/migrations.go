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

func (s *Store) Migrate() error {
	migrations := []string{
		// Owners table. The relay only ever stores hashes and public
		// keys; there is no username, email or private key column by
		// construction.
		`CREATE TABLE IF NOT EXISTS owners (
			username_hash VARCHAR(128) PRIMARY KEY,
			password_hash BYTEA NOT NULL,
			server_entropy VARCHAR(128) NOT NULL,
			public_key BYTEA,
			state VARCHAR(32) NOT NULL DEFAULT 'onboarding',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Tags table: one active keypair generation per tag.
		`CREATE TABLE IF NOT EXISTS tags (
			tag_id VARCHAR(128) PRIMARY KEY,
			public_key BYTEA NOT NULL,
			generation INTEGER NOT NULL DEFAULT 1,
			encrypted_meta BYTEA,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Key blobs: tag private key sealed to one owner. One blob per
		// (tag, owner); the generation column always matches the tag's
		// current generation outside of a rotation transaction.
		`CREATE TABLE IF NOT EXISTS key_blobs (
			tag_id VARCHAR(128) NOT NULL REFERENCES tags(tag_id),
			owner_id VARCHAR(128) NOT NULL,
			generation INTEGER NOT NULL,
			ciphertext BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tag_id, owner_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_key_blobs_owner
		ON key_blobs(owner_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
