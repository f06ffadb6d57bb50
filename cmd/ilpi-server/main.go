package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ilpi/internal/config"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/isolation"
	"github.com/ehr/ilpi/internal/platform/tenant"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ilpi-server",
		Short:        "Multi-tenant long-term care facility records server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to one schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, dir := migrationTarget(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, db.WithApplicationName("ilpi-migrate"))
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s) to %s\n", n, schema)
			return nil
		},
	}
	addMigrationFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of one schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			schema, dir := migrationTarget(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return err
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	addMigrationFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrationFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "public", "Target schema")
	cmd.Flags().String("dir", "", "Migrations directory (default: PUBLIC_MIGRATIONS_DIR for public, TENANT_MIGRATIONS_DIR otherwise)")
}

// migrationTarget picks the public migrations for the shared schema and the
// namespace migrations for every other schema unless --dir is given.
func migrationTarget(cmd *cobra.Command, cfg *config.Config) (schema, dir string) {
	schema, _ = cmd.Flags().GetString("schema")
	dir, _ = cmd.Flags().GetString("dir")
	if dir != "" {
		return schema, dir
	}
	if schema == "public" {
		return schema, cfg.PublicMigrationsDir
	}
	return schema, cfg.TenantMigrationsDir
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and provision its namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			slug, _ := cmd.Flags().GetString("slug")
			if name == "" || slug == "" {
				return fmt.Errorf("--name and --slug are required")
			}
			return withTenantService(func(ctx context.Context, svc *tenant.Service) error {
				t, err := svc.Register(ctx, name, slug)
				if err != nil {
					return err
				}
				fmt.Printf("Tenant %s created in namespace %s\n", t.ID, t.NamespaceName)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Facility display name")
	createCmd.Flags().String("slug", "", "URL-safe identifier (lowercase letters, digits and '-')")
	cmd.AddCommand(createCmd)

	const teardownLong = `Drop a tenant's namespace and retire its directory entry.

Running servers keep their cached handle and keep resolving the tenant until
TENANT_CACHE_TTL expires. Use DELETE /api/v1/admin/tenants/:id against the
server to evict immediately.`
	teardownCmd := &cobra.Command{
		Use:   "teardown",
		Short: "Drop a tenant's namespace and retire its directory entry",
		Long:  teardownLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("id")
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--id must be a tenant uuid: %w", err)
			}
			return withTenantService(func(ctx context.Context, svc *tenant.Service) error {
				if err := svc.Remove(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Tenant %s removed\n", id)
				return nil
			})
		},
	}
	teardownCmd.Flags().String("id", "", "Tenant id")
	cmd.AddCommand(teardownCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			return withTenantService(func(ctx context.Context, svc *tenant.Service) error {
				tenants, total, err := svc.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-24s %-40s %s\n", "ID", "SLUG", "NAMESPACE", "STATUS")
				for _, t := range tenants {
					fmt.Printf("%-36s %-24s %-40s %s\n", t.ID, t.Slug, t.NamespaceName, t.Status)
				}
				fmt.Printf("%d of %d tenant(s)\n", len(tenants), total)
				return nil
			})
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum rows")
	listCmd.Flags().Int("offset", 0, "Rows to skip")
	cmd.AddCommand(listCmd)

	return cmd
}

// withTenantService runs fn against a tenant service backed by the shared
// schema, closing every connection afterwards.
func withTenantService(fn func(ctx context.Context, svc *tenant.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	router, err := newRouter(cfg, pool, logger, queryTracers(logger, nil))
	if err != nil {
		return err
	}
	defer router.Close()

	svc, _, cleanup := newTenantServices(ctx, cfg, pool, router, logger)
	defer cleanup()
	return fn(ctx, svc)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger: console output in development, JSON
// otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stdout)
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.With().Timestamp().Str("service", "ilpi").Logger()
}

// newRouter builds the namespace router. New namespaces get the tenant
// migrations applied at provisioning.
func newRouter(cfg *config.Config, admin *pgxpool.Pool, logger zerolog.Logger, tracers db.TracerFactory) (*db.Router, error) {
	return db.NewRouter(cfg.DatabaseURL, logger,
		db.WithAdmin(admin),
		db.WithMigrator(db.NewMigrator(admin, cfg.TenantMigrationsDir)),
		db.WithTenantMaxConns(cfg.TenantDBMaxConns),
		db.WithTracerFactory(tracers),
	)
}

// queryTracers traces every statement of a namespace through the query log
// and, when a monitor is given, through the isolation monitor.
func queryTracers(logger zerolog.Logger, monitor *isolation.Monitor) db.TracerFactory {
	queryLog := logger.With().Str("component", "query_log").Logger()
	var observe func(namespace string) pgx.QueryTracer
	if monitor != nil {
		observe = monitor.TracerFactory()
	}
	return func(namespace string) pgx.QueryTracer {
		tracers := db.QueryTracers{db.NewLogTracer(queryLog, namespace)}
		if observe != nil {
			tracers = append(tracers, observe(namespace))
		}
		return tracers
	}
}

// newTenantServices builds the resolver and the lifecycle service sharing it.
// The returned cleanup closes the Redis tier when one is configured.
func newTenantServices(ctx context.Context, cfg *config.Config, admin *pgxpool.Pool, router *db.Router, logger zerolog.Logger) (*tenant.Service, *tenant.Resolver, func()) {
	dir := tenant.NewPGDirectory(admin)

	var opts []tenant.ResolverOption
	cleanup := func() {}
	if cfg.RedisURL != "" {
		cache, err := tenant.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, resolving tenants without the shared cache")
		} else {
			opts = append(opts, tenant.WithRemoteCache(cache))
			cleanup = func() { _ = cache.Close() }
		}
	}

	resolver := tenant.NewResolver(dir, cfg.TenantCacheTTL, logger, opts...)
	return tenant.NewService(dir, router, resolver, logger), resolver, cleanup
}
