package tenant

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

func TestNamespaceFor(t *testing.T) {
	t.Parallel()

	ns, err := NamespaceFor("casa-verde", bytes.NewReader([]byte{0xa1, 0xb2, 0xc3}))
	require.NoError(t, err)
	assert.Equal(t, "tenant_casa_verde_a1b2c3", ns)

	_, err = NamespaceFor("casa", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestService_Register(t *testing.T) {
	t.Parallel()

	t.Run("provisions and activates", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		prov := &fakeProvisioner{}
		svc := NewService(dir, prov, nil, zerolog.Nop())

		tn, err := svc.Register(context.Background(), "Casa Verde", "casa-verde")
		require.NoError(t, err)

		assert.Equal(t, StatusActive, tn.Status)
		assert.Regexp(t, regexp.MustCompile(`^tenant_casa_verde_[0-9a-f]{6}$`), tn.NamespaceName)
		assert.Equal(t, []string{tn.NamespaceName}, prov.provisioned)

		stored, err := dir.GetByID(context.Background(), tn.ID)
		require.NoError(t, err)
		assert.True(t, stored.Routable())
	})

	t.Run("rejects unsafe slugs", func(t *testing.T) {
		t.Parallel()
		svc := NewService(newMemDirectory(), &fakeProvisioner{}, nil, zerolog.Nop())

		for _, slug := range []string{"", "Casa", "casa verde", "casa_verde", "casa--verde", "-casa", "casa;drop"} {
			_, err := svc.Register(context.Background(), "Casa", slug)
			assert.ErrorIs(t, err, apperror.ErrValidation, slug)
		}
	})

	t.Run("rejects empty name", func(t *testing.T) {
		t.Parallel()
		svc := NewService(newMemDirectory(), &fakeProvisioner{}, nil, zerolog.Nop())
		_, err := svc.Register(context.Background(), "  ", "casa")
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("duplicate slug conflicts", func(t *testing.T) {
		t.Parallel()
		svc := NewService(newMemDirectory(), &fakeProvisioner{}, nil, zerolog.Nop())
		_, err := svc.Register(context.Background(), "Casa Verde", "casa-verde")
		require.NoError(t, err)

		_, err = svc.Register(context.Background(), "Casa Verde 2", "casa-verde")
		assert.ErrorIs(t, err, apperror.ErrConflict)
	})

	t.Run("failed provisioning removes the directory row", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		svc := NewService(dir, &fakeProvisioner{err: errors.New("disk full")}, nil, zerolog.Nop())

		_, err := svc.Register(context.Background(), "Casa Verde", "casa-verde")
		require.Error(t, err)

		items, total, err := dir.List(context.Background(), 10, 0)
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Zero(t, total)
	})
}

func TestService_Remove(t *testing.T) {
	t.Parallel()

	t.Run("tears down and stops resolving", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		prov := &fakeProvisioner{}
		resolver := NewResolver(dir, time.Minute, zerolog.Nop())
		svc := NewService(dir, prov, resolver, zerolog.Nop())

		tn, err := svc.Register(context.Background(), "Casa Verde", "casa-verde")
		require.NoError(t, err)
		_, err = resolver.Resolve(context.Background(), tn.ID)
		require.NoError(t, err)

		require.NoError(t, svc.Remove(context.Background(), tn.ID))
		assert.Equal(t, []string{tn.NamespaceName}, prov.tornDown)

		_, err = resolver.Resolve(context.Background(), tn.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		assert.ErrorIs(t, svc.Remove(context.Background(), tn.ID), apperror.ErrNotFound)
	})

	t.Run("failed teardown keeps the row for a retry", func(t *testing.T) {
		t.Parallel()
		dir := newMemDirectory()
		prov := &fakeProvisioner{}
		resolver := NewResolver(dir, time.Minute, zerolog.Nop())
		svc := NewService(dir, prov, resolver, zerolog.Nop())

		tn, err := svc.Register(context.Background(), "Casa Verde", "casa-verde")
		require.NoError(t, err)

		prov.teardownErr = errors.New("connection reset")
		require.Error(t, svc.Remove(context.Background(), tn.ID))

		stored, err := dir.GetByID(context.Background(), tn.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.DeletedAt)
		assert.Equal(t, StatusTeardownFailed, stored.Status)
		assert.False(t, stored.Routable())
		_, err = resolver.Resolve(context.Background(), tn.ID)
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		// the slug stays taken until the namespace is really gone
		_, err = svc.Register(context.Background(), "Casa Verde", "casa-verde")
		assert.ErrorIs(t, err, apperror.ErrConflict)

		prov.teardownErr = nil
		require.NoError(t, svc.Remove(context.Background(), tn.ID))
		assert.Equal(t, []string{tn.NamespaceName}, prov.tornDown)

		stored, err = dir.GetByID(context.Background(), tn.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.DeletedAt)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		t.Parallel()
		svc := NewService(newMemDirectory(), &fakeProvisioner{}, nil, zerolog.Nop())
		assert.ErrorIs(t, svc.Remove(context.Background(), uuid.New()), apperror.ErrNotFound)
	})
}
