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

// Package relay is the HTTP client for the relay server. It carries no
// cryptographic logic: callers hand it ciphertext and sealed blobs, and
// it maps relay error codes back to the shared sentinels.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tagrelay/tagrelay/backend/models"
	"github.com/tagrelay/tagrelay/backend/relayerr"
)

// Client talks to one relay server. Safe for concurrent use once
// configured; SetSessionToken and SetContactToken are expected during
// setup, before requests fan out.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	sessionToken string
	contactToken string
	maxElapsed   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBudget bounds the total time spent retrying transient
// failures. Zero disables retries entirely.
func WithRetryBudget(d time.Duration) Option {
	return func(c *Client) { c.maxElapsed = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxElapsed: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSessionToken installs the bearer token from Login on subsequent
// owner requests.
func (c *Client) SetSessionToken(token string) { c.sessionToken = token }

// SetContactToken installs a contact-session token for finder requests.
func (c *Client) SetContactToken(token string) { c.contactToken = token }

// transientError marks failures worth retrying: network errors and 5xx
// responses. Everything else is permanent and surfaces immediately.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do issues one request with a bounded exponential-backoff retry budget.
// Request bodies are re-marshaled per attempt so retries are safe.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("marshaling request: %w", err))
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.sessionToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.sessionToken)
		}
		if c.contactToken != "" {
			req.Header.Set("X-Contact-Token", c.contactToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &transientError{err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{err}
		}

		if resp.StatusCode >= 500 {
			return &transientError{fmt.Errorf("relay returned %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(decodeError(resp.StatusCode, data))
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("unmarshaling response: %w", err))
			}
		}
		return nil
	}

	if c.maxElapsed == 0 {
		err := attempt()
		var te *transientError
		if errors.As(err, &te) {
			return te.err
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed
	err := backoff.Retry(func() error {
		err := attempt()
		var te *transientError
		if errors.As(err, &te) {
			return te.err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	return err
}

// decodeError maps the relay's {"error": code} body to a sentinel. Bodies
// the relay did not produce (proxies, plain-text errors) fall back to a
// status-code description.
func decodeError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		if sentinel := relayerr.FromCode(payload.Error); sentinel != nil {
			return sentinel
		}
	}
	switch status {
	case http.StatusUnauthorized:
		return relayerr.ErrAuthFailure
	case http.StatusForbidden:
		return relayerr.ErrNotAuthorized
	case http.StatusNotFound:
		return relayerr.ErrNotFound
	case http.StatusConflict:
		return relayerr.ErrConflict
	case http.StatusGone:
		return relayerr.ErrExpired
	}
	return fmt.Errorf("relay returned %d: %s", status, bytes.TrimSpace(body))
}

// OnboardResult is the first-phase onboarding response. SessionToken is
// the single-use token that authorizes the key-registration phase.
type OnboardResult struct {
	SessionToken  string `json:"session_token"`
	ServerEntropy string `json:"server_entropy"`
}

// Onboard starts owner registration: the relay stores the credential
// material and returns the entropy needed to derive the identity keypair.
func (c *Client) Onboard(ctx context.Context, usernameHash, passwordHash string) (*OnboardResult, error) {
	var result OnboardResult
	err := c.do(ctx, http.MethodPost, "/api/v1/owners", map[string]string{
		"username_hash": usernameHash,
		"password_hash": passwordHash,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterKey completes onboarding by binding the derived public key to
// the account. The one-time token proves continuity with the first phase.
func (c *Client) RegisterKey(ctx context.Context, usernameHash, sessionToken string, publicKey []byte) error {
	return c.do(ctx, http.MethodPost, "/api/v1/owners/key", map[string]interface{}{
		"username_hash": usernameHash,
		"session_token": sessionToken,
		"public_key":    publicKey,
	}, nil)
}

// LoginResult carries the session token plus the entropy needed to
// rederive the identity on this device.
type LoginResult struct {
	SessionToken  string `json:"session_token"`
	ServerEntropy string `json:"server_entropy"`
	ExpiresIn     int    `json:"expires_in"`
}

// Login authenticates and installs the returned session token on the
// client.
func (c *Client) Login(ctx context.Context, usernameHash, passwordHash string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, "/api/v1/owners/login", map[string]string{
		"username_hash": usernameHash,
		"password_hash": passwordHash,
	}, &result)
	if err != nil {
		return nil, err
	}
	c.sessionToken = result.SessionToken
	return &result, nil
}

// GetOwnerPublicKey fetches another owner's standing public key by their
// pseudonymous id.
func (c *Client) GetOwnerPublicKey(ctx context.Context, ownerID string) ([]byte, error) {
	var result struct {
		PublicKey []byte `json:"public_key"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/owners/"+ownerID+"/key", nil, &result)
	if err != nil {
		return nil, err
	}
	return result.PublicKey, nil
}

// ClaimTag registers an unclaimed tag with its public key, the claimant's
// sealed key blob and the encrypted metadata.
func (c *Client) ClaimTag(ctx context.Context, tagID string, publicKey, keyBlob, encryptedMeta []byte) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tags/"+tagID+"/claim", map[string]interface{}{
		"public_key":     publicKey,
		"key_blob":       keyBlob,
		"encrypted_meta": encryptedMeta,
	}, nil)
}

// GetTag fetches the full tag record, owner-only.
func (c *Client) GetTag(ctx context.Context, tagID string) (*models.Tag, error) {
	var tag models.Tag
	if err := c.do(ctx, http.MethodGet, "/api/v1/tags/"+tagID, nil, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// GetTagKey fetches a tag's public key and generation. Public: anyone who
// scanned the tag can address encrypted metadata to it.
func (c *Client) GetTagKey(ctx context.Context, tagID string) ([]byte, int, error) {
	var result struct {
		PublicKey  []byte `json:"public_key"`
		Generation int    `json:"generation"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tags/"+tagID+"/key", nil, &result); err != nil {
		return nil, 0, err
	}
	return result.PublicKey, result.Generation, nil
}

// GetKeyBlob fetches the caller's sealed key blob for a tag.
func (c *Client) GetKeyBlob(ctx context.Context, tagID string) (*models.KeyBlob, error) {
	var blob models.KeyBlob
	if err := c.do(ctx, http.MethodGet, "/api/v1/tags/"+tagID+"/blob", nil, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// ListTagOwners returns the pseudonymous ids of a tag's current owners.
func (c *Client) ListTagOwners(ctx context.Context, tagID string) ([]string, error) {
	var result struct {
		Owners []string `json:"owners"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tags/"+tagID+"/owners", nil, &result); err != nil {
		return nil, err
	}
	return result.Owners, nil
}

// CommitRotation submits a complete key rotation. The relay applies it
// atomically or rejects it whole.
func (c *Client) CommitRotation(ctx context.Context, commit models.RotationCommit) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tags/"+commit.TagID+"/rotate", commit, nil)
}

// ShareResult is the response to opening a share process.
type ShareResult struct {
	ProcessID string `json:"process_id"`
	ShareLink string `json:"share_link"`
	ExpiresIn int    `json:"expires_in"`
}

// CreateShare opens an ownership-share process covering the given tags.
func (c *Client) CreateShare(ctx context.Context, tagIDs []string) (*ShareResult, error) {
	var result ShareResult
	err := c.do(ctx, http.MethodPost, "/api/v1/shares", map[string]interface{}{
		"tag_ids": tagIDs,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AcceptResult is the candidate's view after accepting a share link.
type AcceptResult struct {
	Pin       string    `json:"pin"`
	TagIDs    []string  `json:"tag_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcceptShare joins a share process as the candidate owner and receives
// the PIN to read to the initiator out of band.
func (c *Client) AcceptShare(ctx context.Context, processID string) (*AcceptResult, error) {
	var result AcceptResult
	err := c.do(ctx, http.MethodPost, "/api/v1/shares/"+processID+"/accept", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// TagGeneration pairs a shared tag with its current generation so the
// initiator can stamp candidate blobs correctly.
type TagGeneration struct {
	TagID      string `json:"tag_id"`
	Generation int    `json:"generation"`
}

// PinResult is the initiator's view after the PIN checks out: everything
// needed to seal tag keys to the candidate.
type PinResult struct {
	CandidateID        string          `json:"candidate_id"`
	CandidatePublicKey []byte          `json:"candidate_public_key"`
	Tags               []TagGeneration `json:"tags"`
}

// SubmitPin confirms the out-of-band PIN as the initiator.
func (c *Client) SubmitPin(ctx context.Context, processID, pin string) (*PinResult, error) {
	var result PinResult
	err := c.do(ctx, http.MethodPost, "/api/v1/shares/"+processID+"/pin", map[string]string{
		"pin": pin,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeliverShareBlobs uploads the candidate's sealed key blobs and
// completes the share process.
func (c *Client) DeliverShareBlobs(ctx context.Context, processID string, blobs []models.KeyBlob) error {
	return c.do(ctx, http.MethodPost, "/api/v1/shares/"+processID+"/blobs", map[string]interface{}{
		"key_blobs": blobs,
	}, nil)
}

// ContactSession is a finder's channel to a tag's owners.
type ContactSession struct {
	SessionID    string   `json:"session_id"`
	SessionToken string   `json:"session_token"`
	TagPublicKey []byte   `json:"tag_public_key"`
	Generation   int      `json:"generation"`
	Recipients   [][]byte `json:"recipients"`
	ExpiresIn    int      `json:"expires_in"`
}

// CreateContactSession opens an anonymous contact session for a scanned
// tag and installs its token on the client.
func (c *Client) CreateContactSession(ctx context.Context, tagID string) (*ContactSession, error) {
	var result ContactSession
	err := c.do(ctx, http.MethodPost, "/api/v1/contact", map[string]string{
		"tag_id": tagID,
	}, &result)
	if err != nil {
		return nil, err
	}
	c.contactToken = result.SessionToken
	return &result, nil
}

// RecipientSet is the current owner key set for a contact session.
type RecipientSet struct {
	Generation int      `json:"generation"`
	Recipients [][]byte `json:"recipients"`
}

// GetRecipients refreshes the owner public keys for a session. Senders
// call this before encoding so new owners can read from that point on.
func (c *Client) GetRecipients(ctx context.Context, sessionID string) (*RecipientSet, error) {
	var result RecipientSet
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/recipients", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PutMessage stores one opaque payload in a contact session.
func (c *Client) PutMessage(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) (string, error) {
	body := map[string]interface{}{"payload": payload}
	if ttl > 0 {
		body["ttl_seconds"] = int(ttl.Seconds())
	}
	var result struct {
		MessageID string `json:"message_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", body, &result)
	if err != nil {
		return "", err
	}
	return result.MessageID, nil
}

// ListMessages fetches a session's messages in timestamp order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var result struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/messages", nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}
