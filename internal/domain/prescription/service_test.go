package prescription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/domain/resident"
	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/internal/platform/versioning/versioningtest"
)

// residentsFunc adapts a function to Residents.
type residentsFunc func(ctx context.Context, id uuid.UUID) (*resident.Resident, error)

func (f residentsFunc) Get(ctx context.Context, id uuid.UUID) (*resident.Resident, error) {
	return f(ctx, id)
}

func newTestService(t *testing.T, known ...uuid.UUID) (*Service, context.Context) {
	t.Helper()
	lookup := residentsFunc(func(_ context.Context, id uuid.UUID) (*resident.Resident, error) {
		for _, k := range known {
			if k == id {
				return &resident.Resident{}, nil
			}
		}
		return nil, apperror.NotFound("resident %s not found", id)
	})
	svc, err := NewService(versioningtest.NewTable[Prescription, *Prescription]("prescriptions"),
		versioningtest.NewLedger(), lookup, zerolog.Nop(), versioning.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, versioningtest.Context(context.Background(), versioningtest.NewNamespace("tenant_a"), uuid.New())
}

func antibiotic(residentID uuid.UUID) *Prescription {
	return &Prescription{
		ResidentID:       residentID,
		DoctorName:       "Dra. Helena Costa",
		DoctorCRM:        "123456",
		DoctorCRMState:   "SP",
		PrescriptionType: TypeAntibiotic,
		PrescriptionDate: "2024-05-02",
		ValidUntil:       "2024-05-09",
	}
}

func TestPrescription_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Prescription)
		wantErr bool
	}{
		{"valid", func(p *Prescription) {}, false},
		{"no doctor", func(p *Prescription) { p.DoctorName = "" }, true},
		{"bad crm", func(p *Prescription) { p.DoctorCRM = "12a" }, true},
		{"lowercase state", func(p *Prescription) { p.DoctorCRMState = "sp" }, true},
		{"unknown type", func(p *Prescription) { p.PrescriptionType = "SOS" }, true},
		{"antibiotic without validity", func(p *Prescription) { p.ValidUntil = "" }, true},
		{"routine without validity", func(p *Prescription) { p.PrescriptionType, p.ValidUntil = TypeRoutine, "" }, false},
		{"validity before issue", func(p *Prescription) { p.ValidUntil = "2024-04-30" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := antibiotic(uuid.New())
			tt.mutate(p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrescription_Expired(t *testing.T) {
	p := antibiotic(uuid.New())
	if p.Expired(time.Date(2024, 5, 9, 18, 0, 0, 0, time.UTC)) {
		t.Error("expected prescription valid on its last day")
	}
	if !p.Expired(time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)) {
		t.Error("expected prescription expired the day after")
	}
	p.ValidUntil = ""
	if p.Expired(time.Now()) {
		t.Error("open-ended prescriptions never expire")
	}
}

func TestService_CreateActivatesAndChecksResident(t *testing.T) {
	residentID := uuid.New()
	svc, ctx := newTestService(t, residentID)
	actor := uuid.New()

	if _, err := svc.Create(ctx, antibiotic(uuid.New()), actor); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown resident, got %v", err)
	}

	p, err := svc.Create(ctx, antibiotic(residentID), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.IsActive {
		t.Error("expected new prescription to be active")
	}
}

func TestService_SuspendPrescription(t *testing.T) {
	residentID := uuid.New()
	svc, ctx := newTestService(t, residentID)
	actor := uuid.New()
	p, err := svc.Create(ctx, antibiotic(residentID), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(ctx, p.ID, map[string]any{"isActive": false}, "Suspensa após reação alérgica", actor)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.IsActive {
		t.Error("expected prescription to be suspended")
	}

	if _, err := svc.Update(ctx, p.ID, map[string]any{"validUntil": nil}, "Remover validade do antibiótico", actor); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("expected antibiotic without validity to be rejected, got %v", err)
	}

	entry, err := svc.HistoryVersion(ctx, p.ID, 2)
	if err != nil {
		t.Fatalf("HistoryVersion: %v", err)
	}
	if len(entry.ChangedFields) != 1 || entry.ChangedFields[0] != "isActive" {
		t.Errorf("expected [isActive], got %v", entry.ChangedFields)
	}
	if _, err := svc.HistoryVersion(ctx, p.ID, 3); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("rejected update must not create a version, got %v", err)
	}
}

func TestColumns_Aligned(t *testing.T) {
	cols := columns()
	p := &Prescription{}
	if len(cols.Values(p)) != len(cols.Names) || len(cols.Targets(p)) != len(cols.Names) {
		t.Errorf("columns, values and targets are not aligned")
	}
}
