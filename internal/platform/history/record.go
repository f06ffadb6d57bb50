// Package history is the append-only ledger of entity snapshots. Every
// accepted mutation of a versioned entity writes exactly one Record in the
// same transaction as the mutation itself.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "CREATE"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

func (c ChangeType) Valid() bool {
	return c == ChangeCreate || c == ChangeUpdate || c == ChangeDelete
}

// MinReasonLength is the shortest accepted change or delete reason.
const MinReasonLength = 10

// Record is one immutable snapshot of an entity. PreviousData is JSON null
// for CREATE records.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	EntityType    string          `json:"entityType"`
	EntityID      uuid.UUID       `json:"entityId"`
	TenantID      uuid.UUID       `json:"tenantId"`
	VersionNumber int             `json:"versionNumber"`
	ChangeType    ChangeType      `json:"changeType"`
	PreviousData  json.RawMessage `json:"previousData"`
	NewData       json.RawMessage `json:"newData"`
	ChangedFields []string        `json:"changedFields"`
	ChangeReason  string          `json:"changeReason"`
	ChangedBy     uuid.UUID       `json:"changedBy"`
	ChangedByName string          `json:"changedByName"`
	ChangedAt     time.Time       `json:"changedAt"`
	Checksum      string          `json:"checksum"`
}

// Validate checks the shape every ledger row must have.
func (r *Record) Validate() error {
	if r.EntityType == "" || r.EntityID == uuid.Nil {
		return apperror.Validation("history record needs entity type and id")
	}
	if !r.ChangeType.Valid() {
		return apperror.Validation("invalid change type %q", r.ChangeType)
	}
	if r.VersionNumber < 1 {
		return apperror.Validation("version number must start at 1, got %d", r.VersionNumber)
	}
	if r.ChangeType == ChangeCreate && r.VersionNumber != 1 {
		return apperror.Validation("CREATE must be version 1, got %d", r.VersionNumber)
	}
	if r.ChangeType == ChangeCreate && !isNull(r.PreviousData) {
		return apperror.Validation("CREATE must not carry previous data")
	}
	if r.ChangeType != ChangeCreate && isNull(r.PreviousData) {
		return apperror.Validation("%s must carry previous data", r.ChangeType)
	}
	if isNull(r.NewData) {
		return apperror.Validation("history record needs new data")
	}
	if r.ChangeType != ChangeCreate && len([]rune(r.ChangeReason)) < MinReasonLength {
		return apperror.Validation("change reason must have at least %d characters", MinReasonLength)
	}
	if r.ChangeReason == "" {
		return apperror.Validation("change reason is required")
	}
	if r.ChangedBy == uuid.Nil {
		return apperror.Validation("history record needs the acting user")
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Store is the ledger surface. It exposes no update or delete.
type Store interface {
	// Append writes the next record of an entity using q, which is expected to
	// be the transaction that also mutates the entity.
	Append(ctx context.Context, q db.Querier, r *Record) error
	// List returns records of one entity ordered by version descending.
	List(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID, limit, offset int) ([]*Record, int, error)
	Get(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID, version int) (*Record, error)
	// Chain returns every record of one entity ordered by version ascending.
	Chain(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID) ([]*Record, error)
}
