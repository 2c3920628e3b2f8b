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

package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/tagrelay/tagrelay/backend/config"
	"github.com/tagrelay/tagrelay/backend/handlers"
	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/storage/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	store := postgres.NewStore(db, rdb)

	if err := store.Migrate(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	jwtConfig := middleware.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
	}

	r := handlers.NewRouter(store, handlers.RouterConfig{
		JWT: jwtConfig,
		Owner: handlers.OwnerConfig{
			JWT:                jwtConfig,
			SessionTTL:         cfg.Auth.SessionTTL,
			OnboardingTokenTTL: cfg.Auth.OnboardingTokenTTL,
			FailureDelay:       cfg.Auth.FailureDelay,
		},
		Message: handlers.MessageConfig{
			ContactSessionTTL: cfg.Relay.ContactSessionTTL,
			MessageTTL:        cfg.Relay.MessageTTL,
			MaxMessageTTL:     cfg.Relay.MaxMessageTTL,
		},
		Share: handlers.ShareConfig{
			BaseURL:     cfg.Server.BaseURL,
			ShareTTL:    cfg.Relay.ShareTTL,
			PinAttempts: cfg.Relay.PinAttempts,
		},
	})

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	logger.Info("relay starting", "addr", cfg.Addr(), "issuer", cfg.Auth.JWTIssuer)

	if err := http.ListenAndServe(cfg.Addr(), r); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
