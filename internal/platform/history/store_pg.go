package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
)

const recordCols = `id, entity_type, entity_id, tenant_id, version_number, change_type,
	previous_data, new_data, changed_fields, change_reason, changed_by, changed_by_name,
	changed_at, checksum`

// PGStore keeps the ledger in the entity_history table of the namespace the
// querier is bound to.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.TenantID, &r.VersionNumber, &r.ChangeType,
		&r.PreviousData, &r.NewData, &r.ChangedFields, &r.ChangeReason, &r.ChangedBy, &r.ChangedByName,
		&r.ChangedAt, &r.Checksum)
	if err != nil {
		return nil, err
	}
	if r.ChangedFields == nil {
		r.ChangedFields = []string{}
	}
	return &r, nil
}

func (s *PGStore) Append(ctx context.Context, q db.Querier, r *Record) error {
	if q == nil {
		return fmt.Errorf("no database connection in context")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ChangedAt.IsZero() {
		r.ChangedAt = time.Now()
	}
	// timestamptz keeps microseconds; the checksum must match what is read back
	r.ChangedAt = r.ChangedAt.UTC().Truncate(time.Microsecond)
	if r.ChangedFields == nil {
		r.ChangedFields = []string{}
	}
	if isNull(r.PreviousData) {
		r.PreviousData = nil
	}

	previous := ""
	if r.VersionNumber > 1 {
		err := q.QueryRow(ctx, `
			SELECT checksum FROM entity_history
			WHERE entity_type = $1 AND entity_id = $2 AND version_number = $3`,
			r.EntityType, r.EntityID, r.VersionNumber-1).Scan(&previous)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.Conflict("%s %s has no version %d to follow", r.EntityType, r.EntityID, r.VersionNumber-1)
		}
		if err != nil {
			return fmt.Errorf("history.Append: previous checksum: %w", err)
		}
	}

	sum, err := Seal(previous, r)
	if err != nil {
		return fmt.Errorf("history.Append: %w", err)
	}
	r.Checksum = sum

	_, err = q.Exec(ctx, `
		INSERT INTO entity_history (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.EntityType, r.EntityID, r.TenantID, r.VersionNumber, r.ChangeType,
		r.PreviousData, r.NewData, r.ChangedFields, r.ChangeReason, r.ChangedBy, r.ChangedByName,
		r.ChangedAt, r.Checksum)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Conflict("%s %s version %d already recorded", r.EntityType, r.EntityID, r.VersionNumber)
		}
		return fmt.Errorf("history.Append: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID, version int) (*Record, error) {
	if q == nil {
		return nil, fmt.Errorf("no database connection in context")
	}
	r, err := scanRecord(q.QueryRow(ctx, `
		SELECT `+recordCols+` FROM entity_history
		WHERE entity_type = $1 AND entity_id = $2 AND version_number = $3`,
		entityType, entityID, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("version %d not found", version)
	}
	if err != nil {
		return nil, fmt.Errorf("history.Get: %w", err)
	}
	return r, nil
}

func (s *PGStore) List(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	if q == nil {
		return nil, 0, fmt.Errorf("no database connection in context")
	}

	var total int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM entity_history
		WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("history.List: count: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+recordCols+` FROM entity_history
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY version_number DESC
		LIMIT $3 OFFSET $4`,
		entityType, entityID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("history.List: %w", err)
	}
	defer rows.Close()

	records, err := collect(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("history.List: %w", err)
	}
	return records, total, nil
}

func (s *PGStore) Chain(ctx context.Context, q db.Querier, entityType string, entityID uuid.UUID) ([]*Record, error) {
	if q == nil {
		return nil, fmt.Errorf("no database connection in context")
	}
	rows, err := q.Query(ctx, `
		SELECT `+recordCols+` FROM entity_history
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY version_number ASC`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("history.Chain: %w", err)
	}
	defer rows.Close()

	records, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("history.Chain: %w", err)
	}
	return records, nil
}

func collect(rows pgx.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
