package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("returns the same namespace twice and caches it", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		tn := activeTenant("tenant_casa_verde_a1b2c3")
		dir.add(tn)
		r := NewResolver(dir, time.Minute, zerolog.Nop())

		ns1, err := r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)
		ns2, err := r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)

		assert.Equal(t, "tenant_casa_verde_a1b2c3", ns1)
		assert.Equal(t, ns1, ns2)
		assert.Equal(t, 1, dir.getCount())
	})

	t.Run("unknown tenant is not found", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(newMemDirectory(), time.Minute, zerolog.Nop())

		_, err := r.Resolve(context.Background(), uuid.New())
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("deleted and provisioning tenants are not found", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		deleted := activeTenant("tenant_gone_000001")
		now := time.Now()
		deleted.DeletedAt = &now
		pending := activeTenant("tenant_pending_000002")
		pending.Status = StatusProvisioning
		dir.add(deleted)
		dir.add(pending)
		r := NewResolver(dir, time.Minute, zerolog.Nop())

		_, err := r.Resolve(context.Background(), deleted.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
		_, err = r.Resolve(context.Background(), pending.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("expired entry falls back to the directory", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		tn := activeTenant("tenant_casa_verde_a1b2c3")
		dir.add(tn)
		now := time.Now()
		r := NewResolver(dir, time.Minute, zerolog.Nop(), WithClock(func() time.Time { return now }))

		_, err := r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)
		now = now.Add(2 * time.Minute)
		_, err = r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)

		assert.Equal(t, 2, dir.getCount())
	})

	t.Run("remote tier answers before the directory", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		remote := newMemRemoteCache()
		id := uuid.New()
		remote.values[id.String()] = "tenant_remote_abcdef"
		r := NewResolver(dir, time.Minute, zerolog.Nop(), WithRemoteCache(remote))

		ns, err := r.Resolve(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "tenant_remote_abcdef", ns)
		assert.Equal(t, 0, dir.getCount())
	})

	t.Run("directory result is written to the remote tier", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		remote := newMemRemoteCache()
		tn := activeTenant("tenant_casa_verde_a1b2c3")
		dir.add(tn)
		r := NewResolver(dir, time.Minute, zerolog.Nop(), WithRemoteCache(remote))

		_, err := r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)
		assert.Equal(t, "tenant_casa_verde_a1b2c3", remote.values[tn.ID.String()])
	})

	t.Run("remote failure degrades to the directory", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		remote := newMemRemoteCache()
		remote.getErr = errors.New("connection reset")
		tn := activeTenant("tenant_casa_verde_a1b2c3")
		dir.add(tn)
		r := NewResolver(dir, time.Minute, zerolog.Nop(), WithRemoteCache(remote))

		ns, err := r.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)
		assert.Equal(t, tn.NamespaceName, ns)
	})
}

func TestResolver_Invalidate(t *testing.T) {
	t.Parallel()
	dir := newMemDirectory()
	remote := newMemRemoteCache()
	tn := activeTenant("tenant_casa_verde_a1b2c3")
	dir.add(tn)
	r := NewResolver(dir, time.Minute, zerolog.Nop(), WithRemoteCache(remote))

	_, err := r.Resolve(context.Background(), tn.ID)
	require.NoError(t, err)
	r.Invalidate(context.Background(), tn.ID)

	assert.Equal(t, 0, r.local.Len())
	assert.Equal(t, []string{tn.ID.String()}, remote.deletes)

	_, err = r.Resolve(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.getCount())
}
