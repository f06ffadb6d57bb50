package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
)

const tenantCols = `id, name, slug, namespace_name, status, created_at, updated_at, deleted_at`

type pgDirectory struct {
	q db.Querier
}

// NewPGDirectory returns the directory stored in public.tenants.
func NewPGDirectory(q db.Querier) Directory {
	return &pgDirectory{q: q}
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.NamespaceName, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *pgDirectory) Create(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := d.q.QueryRow(ctx, `
		INSERT INTO public.tenants (id, name, slug, namespace_name, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Slug, t.NamespaceName, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Conflict("tenant slug %q or namespace already registered", t.Slug)
		}
		return fmt.Errorf("tenants.Create: %w", err)
	}
	return nil
}

func (d *pgDirectory) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	t, err := scanTenant(d.q.QueryRow(ctx, `SELECT `+tenantCols+` FROM public.tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("tenant %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("tenants.GetByID: %w", err)
	}
	return t, nil
}

func (d *pgDirectory) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	t, err := scanTenant(d.q.QueryRow(ctx,
		`SELECT `+tenantCols+` FROM public.tenants WHERE slug = $1 AND deleted_at IS NULL`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("tenant %q not found", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("tenants.GetBySlug: %w", err)
	}
	return t, nil
}

func (d *pgDirectory) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := d.q.Exec(ctx,
		`UPDATE public.tenants SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, status)
	if err != nil {
		return fmt.Errorf("tenants.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("tenant %s not found", id)
	}
	return nil
}

func (d *pgDirectory) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := d.q.Exec(ctx,
		`UPDATE public.tenants SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("tenants.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("tenant %s not found", id)
	}
	return nil
}

func (d *pgDirectory) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM public.tenants WHERE id = $1 AND status = $2`, id, StatusProvisioning); err != nil {
		return fmt.Errorf("tenants.Delete: %w", err)
	}
	return nil
}

func (d *pgDirectory) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	var total int
	if err := d.q.QueryRow(ctx, `SELECT COUNT(*) FROM public.tenants WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("tenants.List: count: %w", err)
	}

	rows, err := d.q.Query(ctx, `SELECT `+tenantCols+` FROM public.tenants
		WHERE deleted_at IS NULL ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("tenants.List: %w", err)
	}
	defer rows.Close()

	var items []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("tenants.List: scan: %w", err)
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
