package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

var resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ilpi_tenant_resolve_total",
	Help: "Tenant resolutions by the tier that answered",
}, []string{"source"})

const DefaultCacheTTL = 60 * time.Second

type ResolverOption func(*Resolver)

// WithRemoteCache adds a shared cache tier between the local cache and the
// directory.
func WithRemoteCache(c RemoteCache) ResolverOption {
	return func(r *Resolver) { r.remote = c }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.local.now = now }
}

// Resolver maps a tenant id to its namespace: local TTL cache first, then the
// optional remote cache, then the directory.
type Resolver struct {
	dir    Directory
	local  *localCache
	remote RemoteCache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewResolver(dir Directory, ttl time.Duration, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &Resolver{
		dir:    dir,
		local:  newLocalCache(time.Now),
		ttl:    ttl,
		logger: logger.With().Str("component", "tenant_resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the namespace of a routable tenant. Unknown, deleted and
// not yet active tenants are all reported as apperror.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID) (string, error) {
	key := tenantID.String()

	if ns, ok := r.local.Get(key); ok {
		resolveTotal.WithLabelValues("local").Inc()
		return ns, nil
	}

	if r.remote != nil {
		ns, ok, err := r.remote.Get(ctx, key)
		if err != nil {
			r.logger.Warn().Err(err).Str("tenant_id", key).Msg("remote tenant cache unavailable")
		} else if ok {
			resolveTotal.WithLabelValues("remote").Inc()
			r.local.Set(key, ns, r.ttl)
			return ns, nil
		}
	}

	t, err := r.dir.GetByID(ctx, tenantID)
	if errors.Is(err, apperror.ErrNotFound) {
		resolveTotal.WithLabelValues("miss").Inc()
		return "", apperror.NotFound("tenant %s not found", tenantID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if !t.Routable() {
		resolveTotal.WithLabelValues("miss").Inc()
		return "", apperror.NotFound("tenant %s not found", tenantID)
	}

	resolveTotal.WithLabelValues("directory").Inc()
	r.local.Set(key, t.NamespaceName, r.ttl)
	if r.remote != nil {
		if err := r.remote.Set(ctx, key, t.NamespaceName, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("tenant_id", key).Msg("remote tenant cache write failed")
		}
	}
	return t.NamespaceName, nil
}

// Invalidate drops the tenant from both cache tiers.
func (r *Resolver) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	key := tenantID.String()
	r.local.Delete(key)
	if r.remote != nil {
		if err := r.remote.Delete(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("tenant_id", key).Msg("remote tenant cache invalidation failed")
		}
	}
}
