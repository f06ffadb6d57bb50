package versioningtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/history"
)

// HistoryCollection is the collection the in-memory ledger writes to.
const HistoryCollection = "entity_history"

// Ledger is an in-memory history.Store with the same sealing and ordering
// rules as the Postgres one.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

func recordKey(entityType string, id uuid.UUID, version int) string {
	return fmt.Sprintf("%s/%s/%09d", entityType, id, version)
}

func (l *Ledger) Append(_ context.Context, q db.Querier, r *history.Record) error {
	c, err := conn(q)
	if err != nil {
		return err
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
	r.ChangedAt = r.ChangedAt.UTC().Truncate(time.Microsecond)
	if r.ChangedFields == nil {
		r.ChangedFields = []string{}
	}

	return c.with(HistoryCollection, func(rows map[string][]byte) error {
		key := recordKey(r.EntityType, r.EntityID, r.VersionNumber)
		if _, dup := rows[key]; dup {
			return apperror.Conflict("%s %s version %d already recorded", r.EntityType, r.EntityID, r.VersionNumber)
		}
		previous := ""
		if r.VersionNumber > 1 {
			raw, ok := rows[recordKey(r.EntityType, r.EntityID, r.VersionNumber-1)]
			if !ok {
				return apperror.Conflict("%s %s has no version %d to follow", r.EntityType, r.EntityID, r.VersionNumber-1)
			}
			var prev history.Record
			if err := json.Unmarshal(raw, &prev); err != nil {
				return err
			}
			previous = prev.Checksum
		}
		sum, err := history.Seal(previous, r)
		if err != nil {
			return err
		}
		r.Checksum = sum
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		rows[key] = b
		return nil
	})
}

func (l *Ledger) records(q db.Querier, entityType string, id uuid.UUID) ([]*history.Record, error) {
	c, err := conn(q)
	if err != nil {
		return nil, err
	}
	prefix := entityType + "/" + id.String() + "/"
	var out []*history.Record
	err = c.with(HistoryCollection, func(rows map[string][]byte) error {
		for k, b := range rows {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			var r history.Record
			if err := json.Unmarshal(b, &r); err != nil {
				return err
			}
			out = append(out, &r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, err
}

func (l *Ledger) List(_ context.Context, q db.Querier, entityType string, id uuid.UUID, limit, offset int) ([]*history.Record, int, error) {
	all, err := l.records(q, entityType, id)
	if err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return page(all, limit, offset), len(all), nil
}

func (l *Ledger) Get(_ context.Context, q db.Querier, entityType string, id uuid.UUID, version int) (*history.Record, error) {
	all, err := l.records(q, entityType, id)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.VersionNumber == version {
			return r, nil
		}
	}
	return nil, apperror.NotFound("version %d not found", version)
}

func (l *Ledger) Chain(_ context.Context, q db.Querier, entityType string, id uuid.UUID) ([]*history.Record, error) {
	return l.records(q, entityType, id)
}

// ErrLedgerDown is returned by a FailingLedger once it is tripped.
var ErrLedgerDown = errors.New("history ledger unavailable")

// FailingLedger wraps a store and fails every Append while tripped.
type FailingLedger struct {
	history.Store
	tripped atomic.Bool
}

func NewFailingLedger(inner history.Store) *FailingLedger {
	return &FailingLedger{Store: inner}
}

func (f *FailingLedger) Trip()  { f.tripped.Store(true) }
func (f *FailingLedger) Reset() { f.tripped.Store(false) }

func (f *FailingLedger) Append(ctx context.Context, q db.Querier, r *history.Record) error {
	if f.tripped.Load() {
		return ErrLedgerDown
	}
	return f.Store.Append(ctx, q, r)
}

// Actors is a fixed actor directory.
type Actors map[uuid.UUID]string

func (a Actors) DisplayNames(_ context.Context, _ db.Querier, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if name, ok := a[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}
