package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

// HandleFactory builds the handle for a namespace from a pool config that
// already carries the namespace search_path and the composed query tracer.
type HandleFactory func(ctx context.Context, namespace string, cfg *pgxpool.Config) (Handle, error)

// TracerFactory returns the query tracer installed on a namespace's
// connections. It runs once per handle construction.
type TracerFactory func(namespace string) pgx.QueryTracer

type RouterOption func(*Router)

func WithHandleFactory(f HandleFactory) RouterOption {
	return func(r *Router) { r.factory = f }
}

func WithTracerFactory(f TracerFactory) RouterOption {
	return func(r *Router) { r.tracers = f }
}

// WithAdmin sets the connection used for schema creation and removal.
func WithAdmin(admin Querier) RouterOption {
	return func(r *Router) { r.admin = admin }
}

// WithMigrator sets the migrator applied to every newly provisioned namespace.
func WithMigrator(m *Migrator) RouterOption {
	return func(r *Router) { r.migrator = m }
}

func WithTenantMaxConns(n int32) RouterOption {
	return func(r *Router) { r.maxConns = n }
}

// Router is the registry of per-namespace handles. It is built once at
// startup and shared by every request.
type Router struct {
	base     *pgxpool.Config
	handles  sync.Map
	group    singleflight.Group
	adminMu  sync.Mutex
	admin    Querier
	migrator *Migrator
	factory  HandleFactory
	tracers  TracerFactory
	maxConns int32
	logger   zerolog.Logger
}

// NewRouter parses the base connection settings shared by all namespaces.
// An empty databaseURL is a configuration error.
func NewRouter(databaseURL string, logger zerolog.Logger, opts ...RouterOption) (*Router, error) {
	if databaseURL == "" {
		return nil, apperror.Configuration("DATABASE_URL is required")
	}
	base, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, apperror.Configuration("parse database url: %v", err)
	}

	r := &Router{
		base:     base,
		factory:  newPoolHandle,
		maxConns: 5,
		logger:   logger.With().Str("component", "tenant_router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func newPoolHandle(ctx context.Context, namespace string, cfg *pgxpool.Config) (Handle, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool for %s: %w", namespace, err)
	}
	return NewPoolHandle(namespace, pool), nil
}

// Handle returns the cached handle for namespace, constructing it on first
// use. Concurrent first callers share one construction.
func (r *Router) Handle(ctx context.Context, namespace string) (Handle, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if h, ok := r.handles.Load(namespace); ok {
		return h.(Handle), nil
	}

	v, err, _ := r.group.Do(namespace, func() (any, error) {
		if h, ok := r.handles.Load(namespace); ok {
			return h, nil
		}

		ctx, span := otel.Tracer("ilpi/db").Start(ctx, "db.Router.Handle")
		span.SetAttributes(attribute.String("tenant.namespace", namespace))
		defer span.End()

		h, err := r.factory(ctx, namespace, r.poolConfig(namespace))
		tenantHandleCreations.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		r.handles.Store(namespace, h)
		tenantHandles.Inc()
		r.logger.Info().Str("namespace", namespace).Msg("tenant handle created")
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

func (r *Router) poolConfig(namespace string) *pgxpool.Config {
	cfg := r.base.Copy()
	cfg.MaxConns = r.maxConns
	cfg.MinConns = 0
	cfg.ConnConfig.RuntimeParams["search_path"] = searchPath(namespace)
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	if r.tracers != nil {
		cfg.ConnConfig.Tracer = r.tracers(namespace)
	}
	return cfg
}

// Provision creates the namespace if it does not exist and applies the
// namespace migrations. Calling it again for an existing namespace only
// applies migrations that are still pending.
func (r *Router) Provision(ctx context.Context, namespace string) (err error) {
	defer func() { namespaceOperations.WithLabelValues("provision", resultLabel(err)).Inc() }()

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if r.admin == nil {
		return apperror.Configuration("router has no admin connection")
	}

	r.adminMu.Lock()
	defer r.adminMu.Unlock()

	if _, err := r.admin.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteNamespace(namespace)); err != nil {
		return fmt.Errorf("create schema %s: %w", namespace, err)
	}

	if r.migrator != nil {
		n, err := r.migrator.Up(ctx, namespace)
		if err != nil {
			return fmt.Errorf("migrate schema %s: %w", namespace, err)
		}
		r.logger.Info().Str("namespace", namespace).Int("applied", n).Msg("namespace migrated")
	}

	r.logger.Info().Str("namespace", namespace).Msg("namespace provisioned")
	return nil
}

// Teardown closes and evicts the namespace's cached handle, then drops the
// namespace and everything in it. Tearing down a missing namespace is a no-op.
func (r *Router) Teardown(ctx context.Context, namespace string) (err error) {
	defer func() { namespaceOperations.WithLabelValues("teardown", resultLabel(err)).Inc() }()

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if r.admin == nil {
		return apperror.Configuration("router has no admin connection")
	}

	r.adminMu.Lock()
	defer r.adminMu.Unlock()

	r.evict(namespace)

	if _, err := r.admin.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoteNamespace(namespace)+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema %s: %w", namespace, err)
	}

	r.logger.Info().Str("namespace", namespace).Msg("namespace torn down")
	return nil
}

func (r *Router) evict(namespace string) {
	r.group.Forget(namespace)
	if h, ok := r.handles.LoadAndDelete(namespace); ok {
		h.(Handle).Close()
		tenantHandles.Dec()
		r.logger.Info().Str("namespace", namespace).Msg("tenant handle closed")
	}
}

// Namespaces lists the namespaces that currently have a cached handle.
func (r *Router) Namespaces() []string {
	var out []string
	r.handles.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Close disconnects every cached handle.
func (r *Router) Close() {
	r.handles.Range(func(key, _ any) bool {
		r.evict(key.(string))
		return true
	})
}
