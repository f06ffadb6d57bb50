package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
)

// Table persists the current state of one entity type.
type Table[E any] interface {
	Insert(ctx context.Context, q db.Querier, e *E) error
	// FindForUpdate loads an entity that is not soft deleted and locks its
	// row until the surrounding transaction ends.
	FindForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*E, error)
	Find(ctx context.Context, q db.Querier, id uuid.UUID, includeDeleted bool) (*E, error)
	// Save writes e only if the stored version still equals observedVersion.
	Save(ctx context.Context, q db.Querier, e *E, observedVersion int) error
	List(ctx context.Context, q db.Querier, limit, offset int) ([]*E, int, error)
}

// Columns maps an entity type's own fields to table columns. Meta columns are
// handled by PGTable.
type Columns[E any, P EntityPtr[E]] struct {
	Table string
	Names []string
	// Values returns the column values of e in Names order.
	Values func(e P) []any
	// Targets returns scan destinations into e in Names order.
	Targets func(e P) []any
	// OrderBy is the List ordering, "created_at, id" when empty.
	OrderBy string
}

var metaColumns = []string{
	"id", "tenant_id", "version_number", "deleted_at",
	"created_by", "updated_by", "created_at", "updated_at",
}

// PGTable is the Postgres Table for any entity type described by Columns.
type PGTable[E any, P EntityPtr[E]] struct {
	cols      Columns[E, P]
	selectSQL string
}

func NewPGTable[E any, P EntityPtr[E]](cols Columns[E, P]) *PGTable[E, P] {
	all := append(append([]string{}, metaColumns...), cols.Names...)
	if cols.OrderBy == "" {
		cols.OrderBy = "created_at, id"
	}
	return &PGTable[E, P]{
		cols:      cols,
		selectSQL: "SELECT " + strings.Join(all, ", ") + " FROM " + cols.Table,
	}
}

func (t *PGTable[E, P]) scan(row pgx.Row) (*E, error) {
	var e E
	p := P(&e)
	m := p.VersionMeta()
	dest := append([]any{
		&m.ID, &m.TenantID, &m.VersionNumber, &m.DeletedAt,
		&m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt,
	}, t.cols.Targets(p)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *PGTable[E, P]) Insert(ctx context.Context, q db.Querier, e *E) error {
	p := P(e)
	m := p.VersionMeta()
	args := append([]any{
		m.ID, m.TenantID, m.VersionNumber, m.DeletedAt,
		m.CreatedBy, m.UpdatedBy, m.CreatedAt, m.UpdatedAt,
	}, t.cols.Values(p)...)

	names := append(append([]string{}, metaColumns...), t.cols.Names...)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	_, err := q.Exec(ctx, "INSERT INTO "+t.cols.Table+" ("+strings.Join(names, ", ")+
		") VALUES ("+strings.Join(placeholders, ", ")+")", args...)
	if isUniqueViolation(err) {
		return apperror.Conflict("%s: %s", t.cols.Table, uniqueDetail(err))
	}
	if err != nil {
		return fmt.Errorf("%s.Insert: %w", t.cols.Table, err)
	}
	return nil
}

func (t *PGTable[E, P]) FindForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*E, error) {
	e, err := t.scan(q.QueryRow(ctx, t.selectSQL+" WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s.FindForUpdate: %w", t.cols.Table, err)
	}
	return e, nil
}

func (t *PGTable[E, P]) Find(ctx context.Context, q db.Querier, id uuid.UUID, includeDeleted bool) (*E, error) {
	query := t.selectSQL + " WHERE id = $1"
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	e, err := t.scan(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s.Find: %w", t.cols.Table, err)
	}
	return e, nil
}

func (t *PGTable[E, P]) Save(ctx context.Context, q db.Querier, e *E, observedVersion int) error {
	p := P(e)
	m := p.VersionMeta()
	sets := []string{"version_number = $3", "deleted_at = $4", "updated_by = $5", "updated_at = $6"}
	args := []any{m.ID, observedVersion, m.VersionNumber, m.DeletedAt, m.UpdatedBy, m.UpdatedAt}
	values := t.cols.Values(p)
	for i, name := range t.cols.Names {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)+1))
		args = append(args, values[i])
	}

	tag, err := q.Exec(ctx, "UPDATE "+t.cols.Table+" SET "+strings.Join(sets, ", ")+
		" WHERE id = $1 AND version_number = $2 AND deleted_at IS NULL", args...)
	if isUniqueViolation(err) {
		return apperror.Conflict("%s: %s", t.cols.Table, uniqueDetail(err))
	}
	if err != nil {
		return fmt.Errorf("%s.Save: %w", t.cols.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("%s %s changed since version %d", t.cols.Table, m.ID, observedVersion)
	}
	return nil
}

func (t *PGTable[E, P]) List(ctx context.Context, q db.Querier, limit, offset int) ([]*E, int, error) {
	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.cols.Table+" WHERE deleted_at IS NULL").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s.List: count: %w", t.cols.Table, err)
	}

	rows, err := q.Query(ctx, t.selectSQL+" WHERE deleted_at IS NULL ORDER BY "+t.cols.OrderBy+" LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s.List: %w", t.cols.Table, err)
	}
	defer rows.Close()

	var items []*E
	for rows.Next() {
		e, err := t.scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%s.List: scan: %w", t.cols.Table, err)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// uniqueDetail names the violated constraint without echoing row values.
func uniqueDetail(err error) string {
	var pgErr *pgconn.PgError
	errors.As(err, &pgErr)
	return "duplicate value violates " + pgErr.ConstraintName
}
