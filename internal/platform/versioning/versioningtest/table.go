package versioningtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/versioning"
)

// Table is an in-memory versioning.Table storing entities as JSON.
type Table[E any, P versioning.EntityPtr[E]] struct {
	name string
}

func NewTable[E any, P versioning.EntityPtr[E]](name string) *Table[E, P] {
	return &Table[E, P]{name: name}
}

func decode[E any](b []byte) (*E, error) {
	var e E
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *Table[E, P]) Insert(_ context.Context, q db.Querier, e *E) error {
	c, err := conn(q)
	if err != nil {
		return err
	}
	m := P(e).VersionMeta()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.with(t.name, func(rows map[string][]byte) error {
		if _, dup := rows[m.ID.String()]; dup {
			return apperror.Conflict("%s %s already exists", t.name, m.ID)
		}
		rows[m.ID.String()] = b
		return nil
	})
}

func (t *Table[E, P]) load(q db.Querier, id uuid.UUID, includeDeleted bool) (*E, error) {
	c, err := conn(q)
	if err != nil {
		return nil, err
	}
	var out *E
	err = c.with(t.name, func(rows map[string][]byte) error {
		b, ok := rows[id.String()]
		if !ok {
			return apperror.ErrNotFound
		}
		e, err := decode[E](b)
		if err != nil {
			return err
		}
		if !includeDeleted && P(e).VersionMeta().Deleted() {
			return apperror.ErrNotFound
		}
		out = e
		return nil
	})
	return out, err
}

func (t *Table[E, P]) FindForUpdate(_ context.Context, q db.Querier, id uuid.UUID) (*E, error) {
	return t.load(q, id, false)
}

func (t *Table[E, P]) Find(_ context.Context, q db.Querier, id uuid.UUID, includeDeleted bool) (*E, error) {
	return t.load(q, id, includeDeleted)
}

func (t *Table[E, P]) Save(_ context.Context, q db.Querier, e *E, observedVersion int) error {
	c, err := conn(q)
	if err != nil {
		return err
	}
	m := P(e).VersionMeta()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.with(t.name, func(rows map[string][]byte) error {
		raw, ok := rows[m.ID.String()]
		if !ok {
			return apperror.Conflict("%s %s changed since version %d", t.name, m.ID, observedVersion)
		}
		stored, err := decode[E](raw)
		if err != nil {
			return err
		}
		sm := P(stored).VersionMeta()
		if sm.VersionNumber != observedVersion || sm.Deleted() {
			return apperror.Conflict("%s %s changed since version %d", t.name, m.ID, observedVersion)
		}
		rows[m.ID.String()] = b
		return nil
	})
}

func (t *Table[E, P]) List(_ context.Context, q db.Querier, limit, offset int) ([]*E, int, error) {
	c, err := conn(q)
	if err != nil {
		return nil, 0, err
	}
	var live []*E
	err = c.with(t.name, func(rows map[string][]byte) error {
		for _, b := range rows {
			e, err := decode[E](b)
			if err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			if !P(e).VersionMeta().Deleted() {
				live = append(live, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(live, func(i, j int) bool {
		a, b := P(live[i]).VersionMeta(), P(live[j]).VersionMeta()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return page(live, limit, offset), len(live), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
