// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/identity/registry"
	"github.com/publichealth/identity/internal/platform/keyval"
)

func TestSelect(t *testing.T) {
	ctx := context.Background()
	store := keyval.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(store, logger)

	local, err := NewLocalAdapter(ctx, reg, store, nil, logger)
	require.NoError(t, err)
	remote, err := NewRemoteAdapter(ctx, newFakeProvider(), reg, store, logger)
	require.NoError(t, err)

	assert.Same(t, Authenticator(local), Select(false, local, remote, logger))
	assert.Same(t, Authenticator(remote), Select(true, local, remote, logger))
}
