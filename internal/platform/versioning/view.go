package versioning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/history"
)

// HistoryEntry is one version as returned to callers.
type HistoryEntry struct {
	VersionNumber int                `json:"versionNumber"`
	ChangeType    history.ChangeType `json:"changeType"`
	ChangeReason  string             `json:"changeReason"`
	PreviousData  json.RawMessage    `json:"previousData"`
	NewData       json.RawMessage    `json:"newData"`
	ChangedFields []string           `json:"changedFields"`
	ChangedAt     time.Time          `json:"changedAt"`
	ChangedBy     uuid.UUID          `json:"changedBy"`
	ChangedByName string             `json:"changedByName"`
}

// HistoryView is an entity's history, newest version first.
type HistoryView struct {
	EntityID       uuid.UUID      `json:"entityId"`
	CurrentVersion int            `json:"currentVersion"`
	TotalVersions  int            `json:"totalVersions"`
	History        []HistoryEntry `json:"history"`
}

func entryFrom(r *history.Record) HistoryEntry {
	prev := r.PreviousData
	if len(prev) == 0 {
		prev = json.RawMessage("null")
	}
	fields := r.ChangedFields
	if fields == nil {
		fields = []string{}
	}
	return HistoryEntry{
		VersionNumber: r.VersionNumber,
		ChangeType:    r.ChangeType,
		ChangeReason:  r.ChangeReason,
		PreviousData:  prev,
		NewData:       r.NewData,
		ChangedFields: fields,
		ChangedAt:     r.ChangedAt,
		ChangedBy:     r.ChangedBy,
		ChangedByName: r.ChangedByName,
	}
}
