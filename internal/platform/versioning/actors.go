package versioning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/history"
)

// UnknownActorName is recorded when the acting user cannot be found.
const UnknownActorName = "unknown user"

// ActorDirectory looks up display names of acting users in the namespace q is
// bound to. Missing ids are simply absent from the result.
type ActorDirectory interface {
	DisplayNames(ctx context.Context, q db.Querier, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

func actorName(ctx context.Context, q db.Querier, dir ActorDirectory, id uuid.UUID) (string, error) {
	if dir == nil {
		return UnknownActorName, nil
	}
	names, err := dir.DisplayNames(ctx, q, []uuid.UUID{id})
	if err != nil {
		return "", err
	}
	if name, ok := names[id]; ok && name != "" {
		return name, nil
	}
	return UnknownActorName, nil
}

// newActorLoader batches the name lookups of one history read into a single
// directory query.
func newActorLoader(q db.Querier, dir ActorDirectory) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, 0, len(keys))
		for _, k := range keys {
			if id, err := uuid.Parse(k.String()); err == nil {
				ids = append(ids, id)
			}
		}

		names, err := dir.DisplayNames(ctx, q, ids)
		results := make([]*dataloader.Result, len(keys))
		for i, k := range keys {
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			name := UnknownActorName
			if id, perr := uuid.Parse(k.String()); perr == nil && names[id] != "" {
				name = names[id]
			}
			results[i] = &dataloader.Result{Data: name}
		}
		return results
	}
	return dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))
}

// fillActorNames resolves names for records stored without one or with
// UnknownActorName, which is what a write by an actor missing from the
// directory leaves behind. Records holding a real name keep the name captured
// at write time. A failed or empty lookup keeps the stored value.
func fillActorNames(ctx context.Context, q db.Querier, dir ActorDirectory, records []*history.Record, logger zerolog.Logger) {
	var pending []*history.Record
	for _, r := range records {
		if r.ChangedByName == "" || r.ChangedByName == UnknownActorName {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return
	}
	if dir == nil {
		for _, r := range pending {
			r.ChangedByName = UnknownActorName
		}
		return
	}

	loader := newActorLoader(q, dir)
	thunks := make([]dataloader.Thunk, len(pending))
	for i, r := range pending {
		thunks[i] = loader.Load(ctx, dataloader.StringKey(r.ChangedBy.String()))
	}
	for i, thunk := range thunks {
		v, err := thunk()
		if err != nil {
			logger.Warn().Err(err).Str("actor_id", pending[i].ChangedBy.String()).Msg("actor name lookup failed")
		}
		if name, ok := v.(string); ok && err == nil {
			pending[i].ChangedByName = name
		} else if pending[i].ChangedByName == "" {
			pending[i].ChangedByName = UnknownActorName
		}
	}
}
