/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package registry manages fleet membership: worker registration,
// deregistration, roster listing, and the signed credentials workers
// must present on every callback.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

// ErrUnauthorized is returned for missing, malformed, expired, or
// subject-less credentials.
var ErrUnauthorized = errors.New("invalid worker credential")

// Registry issues worker-scoped, time-bounded credentials and tracks
// fleet membership through the record store. Registry mutations are
// rare relative to scheduling reads, so no locking is needed beyond
// the store's own transaction isolation.
type Registry struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
}

// New creates a Registry signing credentials with secret, valid for
// ttl.
func New(s store.Store, secret []byte, ttl time.Duration) *Registry {
	return &Registry{store: s, secret: secret, ttl: ttl}
}

// Register adds a worker to the roster and returns its record together
// with a signed credential whose subject is the worker id. The declared
// GPU type must exist in the cost model: admitting a worker with a
// guessed or unknown class would feed placement the wrong capacity and
// timing tables.
func (r *Registry) Register(ctx context.Context, endpoint, gpuType string) (store.Worker, string, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return store.Worker{}, "", fmt.Errorf("worker endpoint must not be empty")
	}
	if _, err := costmodel.Capacity(costmodel.GPUType(gpuType)); err != nil {
		return store.Worker{}, "", fmt.Errorf("worker gpu type %q is not in the cost model", gpuType)
	}
	w := store.Worker{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		Endpoint:     endpoint,
		GPUType:      gpuType,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.store.AddWorker(ctx, w); err != nil {
		return store.Worker{}, "", err
	}
	token, err := r.issue(w.ID)
	if err != nil {
		return store.Worker{}, "", err
	}
	return w, token, nil
}

// Deregister removes a worker from the roster.
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	return r.store.RemoveWorker(ctx, workerID)
}

// List returns the current roster snapshot.
func (r *Registry) List(ctx context.Context) ([]store.Worker, error) {
	return r.store.ListWorkers(ctx)
}

// Verify validates a credential and returns the worker id it is scoped
// to. Any failure maps to ErrUnauthorized.
func (r *Registry) Verify(credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("missing credential: %w", ErrUnauthorized)
	}
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("credential has no subject: %w", ErrUnauthorized)
	}
	return sub, nil
}

func (r *Registry) issue(workerID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   workerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
