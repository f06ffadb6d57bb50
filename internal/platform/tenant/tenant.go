// Package tenant keeps the durable directory of customer organizations and
// resolves a tenant id to the namespace holding its records.
package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusActive       Status = "ACTIVE"
	StatusSuspended    Status = "SUSPENDED"
	// StatusRemoving and StatusTeardownFailed mark a tenant whose namespace
	// is being, or failed to be, dropped. Neither is routable.
	StatusRemoving       Status = "REMOVING"
	StatusTeardownFailed Status = "TEARDOWN_FAILED"
)

// Tenant is one isolated customer organization. NamespaceName is assigned at
// registration and never changes.
type Tenant struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	NamespaceName string     `json:"namespaceName"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

// Routable reports whether requests may be routed to the tenant's namespace.
func (t *Tenant) Routable() bool {
	return t.DeletedAt == nil && t.Status == StatusActive
}

// Directory is the durable tenant registry in the shared schema.
type Directory interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// Delete removes a row that never became routable.
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
}
