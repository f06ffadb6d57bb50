// Package versioning pairs every create, update and soft delete of an entity
// with one immutable history record under a monotonic version counter, inside
// a single transaction of the caller's tenant namespace.
package versioning

import (
	"time"

	"github.com/google/uuid"
)

// Meta is the shared header of every versioned entity. Entity types embed it
// so its fields are flattened into the entity's JSON.
type Meta struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenantId"`
	VersionNumber int        `json:"versionNumber"`
	DeletedAt     *time.Time `json:"deletedAt"`
	CreatedBy     uuid.UUID  `json:"createdBy"`
	UpdatedBy     *uuid.UUID `json:"updatedBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (m *Meta) VersionMeta() *Meta { return m }

func (m *Meta) Deleted() bool { return m.DeletedAt != nil }

// Versioned is implemented by pointers to entity types that embed Meta.
type Versioned interface {
	VersionMeta() *Meta
}

// Validator is implemented by entities that check their own field values.
// The engine calls it on the state about to be persisted.
type Validator interface {
	Validate() error
}

// EntityPtr constrains P to *E where *E embeds Meta.
type EntityPtr[E any] interface {
	*E
	Versioned
}

var metaKeys = map[string]bool{
	"id":            true,
	"tenantId":      true,
	"versionNumber": true,
	"deletedAt":     true,
	"createdBy":     true,
	"updatedBy":     true,
	"createdAt":     true,
	"updatedAt":     true,
}

// diffIgnored keys change on every mutation and never count as a changed field.
var diffIgnored = map[string]bool{
	"updatedAt":     true,
	"versionNumber": true,
	"updatedBy":     true,
}
