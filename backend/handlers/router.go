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

package handlers

import (
	"github.com/gorilla/mux"

	"github.com/tagrelay/tagrelay/backend/middleware"
	"github.com/tagrelay/tagrelay/backend/storage"
)

// RouterConfig bundles the per-handler tunables for NewRouter.
type RouterConfig struct {
	JWT     middleware.JWTConfig
	Owner   OwnerConfig
	Message MessageConfig
	Share   ShareConfig
}

// NewRouter mounts the full relay API on a fresh router. The caller adds
// anything outside the API surface, like the health endpoint.
func NewRouter(store storage.Store, cfg RouterConfig) *mux.Router {
	ownerHandler := NewOwnerHandler(store, cfg.Owner)
	tagHandler := NewTagHandler(store)
	messageHandler := NewMessageHandler(store, cfg.Message)
	shareHandler := NewShareHandler(store, cfg.Share)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT)
	optionalAuth := middleware.NewOptionalAuthMiddleware(cfg.JWT)

	r := mux.NewRouter()
	r.Use(middleware.CORS)

	// Public endpoints: onboarding, login, and the finder side.
	public := r.PathPrefix("/api/v1").Subrouter()
	public.HandleFunc("/owners", ownerHandler.Onboard).Methods("POST")
	public.HandleFunc("/owners/key", ownerHandler.RegisterKey).Methods("POST")
	public.HandleFunc("/owners/login", ownerHandler.Login).Methods("POST")
	public.HandleFunc("/tags/{tagId}/key", tagHandler.GetPublicKey).Methods("GET")
	public.HandleFunc("/contact", messageHandler.CreateContactSession).Methods("POST")

	// Contact sessions: finder via contact token, owner via bearer session.
	sessions := r.PathPrefix("/api/v1/sessions").Subrouter()
	sessions.Use(optionalAuth)
	sessions.HandleFunc("/{sessionId}/messages", messageHandler.Put).Methods("POST")
	sessions.HandleFunc("/{sessionId}/messages", messageHandler.List).Methods("GET")
	sessions.HandleFunc("/{sessionId}/recipients", messageHandler.Recipients).Methods("GET")

	// Owner endpoints.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)
	api.HandleFunc("/owners", ownerHandler.Delete).Methods("DELETE")
	api.HandleFunc("/owners/{ownerId}/key", ownerHandler.GetPublicKey).Methods("GET")
	api.HandleFunc("/tags/{tagId}/claim", tagHandler.Claim).Methods("POST")
	api.HandleFunc("/tags/{tagId}", tagHandler.Get).Methods("GET")
	api.HandleFunc("/tags/{tagId}/blob", tagHandler.GetKeyBlob).Methods("GET")
	api.HandleFunc("/tags/{tagId}/owners", tagHandler.ListOwners).Methods("GET")
	api.HandleFunc("/tags/{tagId}/rotate", tagHandler.Rotate).Methods("POST")
	api.HandleFunc("/shares", shareHandler.Create).Methods("POST")
	api.HandleFunc("/shares/{processId}/accept", shareHandler.Accept).Methods("POST")
	api.HandleFunc("/shares/{processId}/pin", shareHandler.SubmitPin).Methods("POST")
	api.HandleFunc("/shares/{processId}/blobs", shareHandler.DeliverBlobs).Methods("POST")

	return r
}
