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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8081", cfg.Addr())
	assert.Equal(t, 5, cfg.Relay.PinAttempts)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  base_url: http://relay.example
auth:
  jwt_secret: from-file
relay:
  share_ttl: 5m
  pin_attempts: 3
`), 0o600))

	t.Setenv("PIN_ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://relay.example", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Relay.ShareTTL)
	// Env wins over file.
	assert.Equal(t, 7, cfg.Relay.PinAttempts)
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.JWTSecret = "s"
	cfg.Relay.MaxMessageTTL = time.Hour
	cfg.Relay.MessageTTL = 2 * time.Hour
	assert.Error(t, cfg.Validate())
}
