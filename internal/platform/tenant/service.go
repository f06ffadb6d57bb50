package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// maxSlugLen keeps tenant_<slug>_<6 hex> inside the 63 byte identifier limit.
const maxSlugLen = 48

// Provisioner creates and destroys namespaces. *db.Router implements it.
type Provisioner interface {
	Provision(ctx context.Context, namespace string) error
	Teardown(ctx context.Context, namespace string) error
}

// Service runs the tenant lifecycle: registration with namespace
// provisioning, and removal with namespace teardown.
type Service struct {
	dir         Directory
	provisioner Provisioner
	resolver    *Resolver
	random      io.Reader
	logger      zerolog.Logger
}

func NewService(dir Directory, provisioner Provisioner, resolver *Resolver, logger zerolog.Logger) *Service {
	return &Service{
		dir:         dir,
		provisioner: provisioner,
		resolver:    resolver,
		random:      rand.Reader,
		logger:      logger.With().Str("component", "tenant_service").Logger(),
	}
}

// NamespaceFor derives a fresh namespace name from a slug. The random suffix
// keeps names unique when a slug is reused after removal.
func NamespaceFor(slug string, random io.Reader) (string, error) {
	suffix := make([]byte, 3)
	if _, err := io.ReadFull(random, suffix); err != nil {
		return "", fmt.Errorf("generate namespace suffix: %w", err)
	}
	name := fmt.Sprintf("tenant_%s_%s", strings.ReplaceAll(slug, "-", "_"), hex.EncodeToString(suffix))
	if err := db.ValidateNamespace(name); err != nil {
		return "", err
	}
	return name, nil
}

// Register records a new tenant and provisions its namespace. The tenant only
// becomes routable once provisioning succeeded.
func (s *Service) Register(ctx context.Context, name, slug string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.Validation("tenant name is required")
	}
	if len(slug) > maxSlugLen || !slugPattern.MatchString(slug) {
		return nil, apperror.Validation("invalid slug %q: lowercase letters, digits and single hyphens only", slug)
	}

	if _, err := s.dir.GetBySlug(ctx, slug); err == nil {
		return nil, apperror.Conflict("tenant slug %q already registered", slug)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	namespace, err := NamespaceFor(slug, s.random)
	if err != nil {
		return nil, err
	}

	t := &Tenant{
		ID:            uuid.New(),
		Name:          name,
		Slug:          slug,
		NamespaceName: namespace,
		Status:        StatusProvisioning,
	}
	if err := s.dir.Create(ctx, t); err != nil {
		return nil, err
	}

	if err := s.provisioner.Provision(ctx, namespace); err != nil {
		if delErr := s.dir.Delete(ctx, t.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("tenant_id", t.ID.String()).Msg("failed to remove unprovisioned tenant")
		}
		return nil, fmt.Errorf("provision tenant %s: %w", slug, err)
	}

	if err := s.dir.UpdateStatus(ctx, t.ID, StatusActive); err != nil {
		return nil, err
	}
	t.Status = StatusActive

	s.logger.Info().
		Str("tenant_id", t.ID.String()).
		Str("slug", slug).
		Str("namespace", namespace).
		Msg("tenant registered")
	return t, nil
}

// Remove destroys the tenant's namespace and then soft-deletes its directory
// row. The tenant stops routing before the drop starts. A failed drop leaves
// the live row in TEARDOWN_FAILED, and calling Remove again retries it.
func (s *Service) Remove(ctx context.Context, tenantID uuid.UUID) error {
	t, err := s.dir.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.DeletedAt != nil {
		return apperror.NotFound("tenant %s not found", tenantID)
	}

	if err := s.dir.UpdateStatus(ctx, tenantID, StatusRemoving); err != nil {
		return err
	}
	if s.resolver != nil {
		s.resolver.Invalidate(ctx, tenantID)
	}

	if err := s.provisioner.Teardown(ctx, t.NamespaceName); err != nil {
		if statusErr := s.dir.UpdateStatus(ctx, tenantID, StatusTeardownFailed); statusErr != nil {
			s.logger.Error().Err(statusErr).Str("tenant_id", tenantID.String()).Msg("failed to record teardown failure")
		}
		return fmt.Errorf("teardown tenant %s: %w", t.Slug, err)
	}
	if err := s.dir.SoftDelete(ctx, tenantID); err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("namespace", t.NamespaceName).
		Msg("tenant removed")
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	return s.dir.GetByID(ctx, tenantID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	return s.dir.List(ctx, limit, offset)
}
