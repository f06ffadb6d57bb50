package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/history"
)

// DefaultCreateReason is the change reason recorded for CREATE entries.
const DefaultCreateReason = "Initial record creation"

// HandleFunc returns the namespace handle of the current request.
type HandleFunc func(ctx context.Context) (db.Handle, error)

// TenantFunc returns the tenant id of the current request.
type TenantFunc func(ctx context.Context) (uuid.UUID, error)

// Options carries the optional collaborators of an Engine.
type Options struct {
	Actors  ActorDirectory
	Handles HandleFunc
	Tenants TenantFunc
	Now     func() time.Time
}

// Engine runs versioned mutations and history reads for entity type E.
type Engine[E any, P EntityPtr[E]] struct {
	desc    *Descriptor
	table   Table[E]
	history history.Store
	actors  ActorDirectory
	handles HandleFunc
	tenants TenantFunc
	now     func() time.Time
	tracer  trace.Tracer
	logger  zerolog.Logger
}

func NewEngine[E any, P EntityPtr[E]](desc *Descriptor, table Table[E], store history.Store, logger zerolog.Logger, opts Options) (*Engine[E, P], error) {
	if err := desc.compile(); err != nil {
		return nil, err
	}
	e := &Engine[E, P]{
		desc:    desc,
		table:   table,
		history: store,
		actors:  opts.Actors,
		handles: opts.Handles,
		tenants: opts.Tenants,
		now:     opts.Now,
		tracer:  otel.Tracer("ilpi/versioning"),
		logger:  logger.With().Str("entity_type", desc.EntityType).Logger(),
	}
	if e.handles == nil {
		e.handles = handleFromContext
	}
	if e.tenants == nil {
		e.tenants = tenantFromContext
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func handleFromContext(ctx context.Context) (db.Handle, error) {
	h := db.HandleFromContext(ctx)
	if h == nil {
		return nil, fmt.Errorf("no tenant namespace in context")
	}
	return h, nil
}

func tenantFromContext(ctx context.Context) (uuid.UUID, error) {
	raw := db.TenantFromContext(ctx)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("no tenant in context")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant in context: %w", err)
	}
	return id, nil
}

// Descriptor returns the entity type's descriptor.
func (e *Engine[E, P]) Descriptor() *Descriptor { return e.desc }

func checkReason(field, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperror.Validation("%s is required", field)
	}
	if utf8.RuneCountInString(reason) < history.MinReasonLength {
		return "", apperror.Validation("%s must have at least %d characters", field, history.MinReasonLength)
	}
	return reason, nil
}

func (e *Engine[E, P]) notFound(id uuid.UUID) error {
	return apperror.NotFound("%s %s not found", e.desc.EntityType, id)
}

func (e *Engine[E, P]) validate(entity P) error {
	v, ok := any(entity).(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			return err
		}
		return apperror.Validation("%s: %v", e.desc.EntityType, err)
	}
	return nil
}

func (e *Engine[E, P]) start(ctx context.Context, op string, id uuid.UUID) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "versioning."+op)
	span.SetAttributes(attribute.String("entity.type", e.desc.EntityType))
	if id != uuid.Nil {
		span.SetAttributes(attribute.String("entity.id", id.String()))
	}
	return ctx, span
}

func (e *Engine[E, P]) observe(change history.ChangeType, started time.Time, span trace.Span, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
	}
	mutationsTotal.WithLabelValues(e.desc.EntityType, string(change), result).Inc()
	mutationDuration.WithLabelValues(e.desc.EntityType, string(change)).Observe(time.Since(started).Seconds())
}

// Create persists input as version 1 together with its CREATE record.
func (e *Engine[E, P]) Create(ctx context.Context, input P, actorID uuid.UUID) (_ P, err error) {
	ctx, span := e.start(ctx, "Create", uuid.Nil)
	defer span.End()
	defer func(started time.Time) { e.observe(history.ChangeCreate, started, span, err) }(time.Now())

	if input == nil {
		return nil, apperror.Validation("%s input is required", e.desc.EntityType)
	}
	if actorID == uuid.Nil {
		return nil, apperror.Validation("acting user is required")
	}
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := e.tenants(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	m := input.VersionMeta()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.TenantID = tenantID
	m.VersionNumber = 1
	m.DeletedAt = nil
	m.CreatedBy = actorID
	m.UpdatedBy = nil
	m.CreatedAt = now
	m.UpdatedAt = now

	if err := e.validate(input); err != nil {
		return nil, err
	}
	newData, err := e.desc.Snapshot(input)
	if err != nil {
		return nil, err
	}

	err = h.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		if err := e.table.Insert(ctx, q, (*E)(input)); err != nil {
			return err
		}
		name, err := actorName(ctx, q, e.actors, actorID)
		if err != nil {
			return err
		}
		return e.history.Append(ctx, q, &history.Record{
			EntityType:    e.desc.EntityType,
			EntityID:      m.ID,
			TenantID:      tenantID,
			VersionNumber: 1,
			ChangeType:    history.ChangeCreate,
			NewData:       newData,
			ChangedFields: []string{},
			ChangeReason:  DefaultCreateReason,
			ChangedBy:     actorID,
			ChangedByName: name,
			ChangedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("entity_id", m.ID.String()).
		Int("version", 1).
		Str("change_type", string(history.ChangeCreate)).
		Str("actor_id", actorID.String()).
		Msg("versioned mutation committed")
	return input, nil
}

// Update applies a merge patch to a live entity. Only keys declared in the
// descriptor may appear in patch, and at least one value must change.
func (e *Engine[E, P]) Update(ctx context.Context, id uuid.UUID, patch map[string]any, changeReason string, actorID uuid.UUID) (_ P, err error) {
	ctx, span := e.start(ctx, "Update", id)
	defer span.End()
	defer func(started time.Time) { e.observe(history.ChangeUpdate, started, span, err) }(time.Now())

	reason, err := checkReason("changeReason", changeReason)
	if err != nil {
		return nil, err
	}
	if actorID == uuid.Nil {
		return nil, apperror.Validation("acting user is required")
	}
	if err := e.desc.checkPatch(patch); err != nil {
		return nil, err
	}
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}

	var next P
	err = h.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		current, err := e.table.FindForUpdate(ctx, q, id)
		if errors.Is(err, apperror.ErrNotFound) {
			return e.notFound(id)
		}
		if err != nil {
			return err
		}
		cur := P(current)
		observed := cur.VersionMeta().VersionNumber

		before, err := toMap(cur)
		if err != nil {
			return err
		}
		merged, err := mergePatch(before, patch)
		if err != nil {
			return err
		}
		decoded, err := fromMap[E](merged)
		if err != nil {
			return apperror.Validation("%s: %v", e.desc.EntityType, err)
		}
		next = P(decoded)

		now := e.now().UTC().Truncate(time.Microsecond)
		m := next.VersionMeta()
		*m = *cur.VersionMeta()
		m.VersionNumber = observed + 1
		m.UpdatedBy = &actorID
		m.UpdatedAt = now

		if err := e.validate(next); err != nil {
			return err
		}
		after, err := toMap(next)
		if err != nil {
			return err
		}
		changed := ChangedFields(before, after)
		if len(changed) == 0 {
			return apperror.Validation("no changes detected")
		}

		if err := e.table.Save(ctx, q, (*E)(next), observed); err != nil {
			return err
		}
		return e.appendChange(ctx, q, history.ChangeUpdate, before, after, changed, reason, actorID, m)
	})
	if err != nil {
		return nil, err
	}

	e.logMutation(next.VersionMeta(), history.ChangeUpdate, actorID)
	return next, nil
}

// SoftDelete marks a live entity deleted. The entity and its history stay
// readable.
func (e *Engine[E, P]) SoftDelete(ctx context.Context, id uuid.UUID, deleteReason string, actorID uuid.UUID) (_ P, err error) {
	ctx, span := e.start(ctx, "SoftDelete", id)
	defer span.End()
	defer func(started time.Time) { e.observe(history.ChangeDelete, started, span, err) }(time.Now())

	reason, err := checkReason("deleteReason", deleteReason)
	if err != nil {
		return nil, err
	}
	if actorID == uuid.Nil {
		return nil, apperror.Validation("acting user is required")
	}
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}

	var next P
	err = h.InTx(ctx, func(ctx context.Context, q db.Querier) error {
		current, err := e.table.FindForUpdate(ctx, q, id)
		if errors.Is(err, apperror.ErrNotFound) {
			return e.notFound(id)
		}
		if err != nil {
			return err
		}
		if e.desc.IdentityRecord && id == actorID {
			return apperror.Forbidden("cannot delete your own %s record", e.desc.EntityType)
		}
		cur := P(current)
		observed := cur.VersionMeta().VersionNumber

		before, err := toMap(cur)
		if err != nil {
			return err
		}
		decoded, err := fromMap[E](before)
		if err != nil {
			return err
		}
		next = P(decoded)

		now := e.now().UTC().Truncate(time.Microsecond)
		m := next.VersionMeta()
		*m = *cur.VersionMeta()
		m.DeletedAt = &now
		m.VersionNumber = observed + 1
		m.UpdatedBy = &actorID
		m.UpdatedAt = now

		after, err := toMap(next)
		if err != nil {
			return err
		}

		if err := e.table.Save(ctx, q, (*E)(next), observed); err != nil {
			return err
		}
		return e.appendChange(ctx, q, history.ChangeDelete, before, after, ChangedFields(before, after), reason, actorID, m)
	})
	if err != nil {
		return nil, err
	}

	e.logMutation(next.VersionMeta(), history.ChangeDelete, actorID)
	return next, nil
}

func (e *Engine[E, P]) appendChange(ctx context.Context, q db.Querier, change history.ChangeType, before, after map[string]any, changed []string, reason string, actorID uuid.UUID, m *Meta) error {
	prevData, err := json.Marshal(e.desc.Mask(before))
	if err != nil {
		return fmt.Errorf("marshal previous snapshot: %w", err)
	}
	newData, err := json.Marshal(e.desc.Mask(after))
	if err != nil {
		return fmt.Errorf("marshal new snapshot: %w", err)
	}
	name, err := actorName(ctx, q, e.actors, actorID)
	if err != nil {
		return err
	}
	return e.history.Append(ctx, q, &history.Record{
		EntityType:    e.desc.EntityType,
		EntityID:      m.ID,
		TenantID:      m.TenantID,
		VersionNumber: m.VersionNumber,
		ChangeType:    change,
		PreviousData:  prevData,
		NewData:       newData,
		ChangedFields: changed,
		ChangeReason:  reason,
		ChangedBy:     actorID,
		ChangedByName: name,
		ChangedAt:     m.UpdatedAt,
	})
}

func (e *Engine[E, P]) logMutation(m *Meta, change history.ChangeType, actorID uuid.UUID) {
	e.logger.Info().
		Str("entity_id", m.ID.String()).
		Int("version", m.VersionNumber).
		Str("change_type", string(change)).
		Str("actor_id", actorID.String()).
		Msg("versioned mutation committed")
}

// Get returns a live entity.
func (e *Engine[E, P]) Get(ctx context.Context, id uuid.UUID) (P, error) {
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}
	found, err := e.table.Find(ctx, h.Querier(), id, false)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, e.notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return P(found), nil
}

// List returns live entities and their total count.
func (e *Engine[E, P]) List(ctx context.Context, limit, offset int) ([]P, int, error) {
	h, err := e.handles(ctx)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := e.table.List(ctx, h.Querier(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]P, len(items))
	for i, item := range items {
		out[i] = P(item)
	}
	return out, total, nil
}

// History returns an entity's records newest first. Soft-deleted entities
// keep their history readable.
func (e *Engine[E, P]) History(ctx context.Context, id uuid.UUID, limit, offset int) (*HistoryView, error) {
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}
	q := h.Querier()

	found, err := e.table.Find(ctx, q, id, true)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, e.notFound(id)
	}
	if err != nil {
		return nil, err
	}

	records, total, err := e.history.List(ctx, q, e.desc.EntityType, id, limit, offset)
	if err != nil {
		return nil, err
	}
	fillActorNames(ctx, q, e.actors, records, e.logger)

	view := &HistoryView{
		EntityID:       id,
		CurrentVersion: P(found).VersionMeta().VersionNumber,
		TotalVersions:  total,
		History:        make([]HistoryEntry, len(records)),
	}
	for i, r := range records {
		view.History[i] = entryFrom(r)
	}
	return view, nil
}

// HistoryVersion returns one version of an entity.
func (e *Engine[E, P]) HistoryVersion(ctx context.Context, id uuid.UUID, version int) (*HistoryEntry, error) {
	h, err := e.handles(ctx)
	if err != nil {
		return nil, err
	}
	q := h.Querier()

	if _, err := e.table.Find(ctx, q, id, true); errors.Is(err, apperror.ErrNotFound) {
		return nil, e.notFound(id)
	} else if err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, apperror.NotFound("version %d not found", version)
	}

	r, err := e.history.Get(ctx, q, e.desc.EntityType, id, version)
	if err != nil {
		return nil, err
	}
	fillActorNames(ctx, q, e.actors, []*history.Record{r}, e.logger)
	entry := entryFrom(r)
	return &entry, nil
}

// Verify recomputes the checksum chain of an entity's history.
func (e *Engine[E, P]) Verify(ctx context.Context, id uuid.UUID) (history.Verification, error) {
	h, err := e.handles(ctx)
	if err != nil {
		return history.Verification{}, err
	}
	q := h.Querier()

	if _, err := e.table.Find(ctx, q, id, true); errors.Is(err, apperror.ErrNotFound) {
		return history.Verification{}, e.notFound(id)
	} else if err != nil {
		return history.Verification{}, err
	}
	records, err := e.history.Chain(ctx, q, e.desc.EntityType, id)
	if err != nil {
		return history.Verification{}, err
	}
	return history.VerifyChain(id, records)
}

// View renders an entity for callers with sensitive values masked.
func (e *Engine[E, P]) View(entity P) (map[string]any, error) {
	m, err := toMap(entity)
	if err != nil {
		return nil, err
	}
	return e.desc.Mask(m), nil
}
