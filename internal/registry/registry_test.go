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

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

var testSecret = []byte("test-signing-secret")

func TestRegisterIssuesVerifiableCredential(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemStore(), testSecret, time.Hour)

	w, token, err := r.Register(ctx, "http://worker-1:8080", "A10G")
	require.NoError(t, err)
	assert.Len(t, w.ID, 32, "worker id is a dashless uuid")
	assert.NotContains(t, w.ID, "-")
	assert.Equal(t, "http://worker-1:8080", w.Endpoint)
	require.NotEmpty(t, token)

	sub, err := r.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, w.ID, sub)
}

func TestRegisterTrimsTrailingSlash(t *testing.T) {
	r := New(store.NewMemStore(), testSecret, time.Hour)
	w, _, err := r.Register(context.Background(), "http://worker-1:8080/", "A10G")
	require.NoError(t, err)
	assert.Equal(t, "http://worker-1:8080", w.Endpoint)
}

func TestRegisterEmptyEndpoint(t *testing.T) {
	r := New(store.NewMemStore(), testSecret, time.Hour)
	_, _, err := r.Register(context.Background(), "", "A10G")
	assert.Error(t, err)
}

func TestRegisterGPUTypeContract(t *testing.T) {
	r := New(store.NewMemStore(), testSecret, time.Hour)

	w, _, err := r.Register(context.Background(), "http://worker-1:8080", "A100")
	require.NoError(t, err)
	assert.Equal(t, "A100", w.GPUType)

	// The declared class must match the cost model exactly; nothing is
	// inferred or defaulted on the worker's behalf.
	for _, gpu := range []string{"", "H100", "a100"} {
		_, _, err := r.Register(context.Background(), "http://worker-2:8080", gpu)
		assert.Error(t, err, "gpu type %q", gpu)
	}
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemStore(), testSecret, time.Hour)

	w, _, err := r.Register(ctx, "http://worker-1:8080", "A10G")
	require.NoError(t, err)
	require.NoError(t, r.Deregister(ctx, w.ID))

	roster, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, roster)

	err = r.Deregister(ctx, w.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestVerifyRejections(t *testing.T) {
	r := New(store.NewMemStore(), testSecret, time.Hour)

	expired := New(store.NewMemStore(), testSecret, -time.Minute)
	_, expiredToken, err := expired.Register(context.Background(), "http://worker-1:8080", "A10G")
	require.NoError(t, err)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "w1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "w1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"malformed", "not.a.token"},
		{"expired", expiredToken},
		{"wrong key", wrongKey},
		{"no subject", noSubject},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Verify(tt.credential)
			assert.True(t, errors.Is(err, ErrUnauthorized))
		})
	}
}
