package resident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/internal/platform/versioning/versioningtest"
)

func newTestService(t *testing.T) (*Service, context.Context, uuid.UUID) {
	t.Helper()
	actor := uuid.New()
	svc, err := NewService(versioningtest.NewTable[Resident, *Resident]("residents"),
		versioningtest.NewLedger(), zerolog.Nop(),
		versioning.Options{Actors: versioningtest.Actors{actor: "Enf. Carla Dias"}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := versioningtest.Context(context.Background(), versioningtest.NewNamespace("tenant_a"), uuid.New())
	return svc, ctx, actor
}

func validResident() *Resident {
	return &Resident{
		FullName:  "José Pereira",
		CPF:       "123.456.789-09",
		Gender:    "MASCULINO",
		BirthDate: "1938-11-02",
	}
}

func TestResident_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Resident)
		wantErr bool
	}{
		{"valid", func(r *Resident) {}, false},
		{"missing name", func(r *Resident) { r.FullName = "  " }, true},
		{"bad gender", func(r *Resident) { r.Gender = "M" }, true},
		{"bad status", func(r *Resident) { r.Status = "Alta" }, true},
		{"bad cpf", func(r *Resident) { r.CPF = "1234" }, true},
		{"unformatted cpf", func(r *Resident) { r.CPF = "12345678909" }, false},
		{"bad birth date", func(r *Resident) { r.BirthDate = "02/11/1938" }, true},
		{"future birth date", func(r *Resident) { r.BirthDate = "2999-01-01" }, true},
		{"admission before birth", func(r *Resident) { r.AdmissionDate = "1930-01-01" }, true},
		{"admission ok", func(r *Resident) { r.AdmissionDate = "2023-06-15" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validResident()
			r.Status = StatusActive
			tt.mutate(r)
			if err := r.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_CreateDefaultsStatus(t *testing.T) {
	svc, ctx, actor := newTestService(t)

	r, err := svc.Create(ctx, validResident(), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, r.Status)
	}
	if r.VersionNumber != 1 {
		t.Errorf("expected version 1, got %d", r.VersionNumber)
	}
}

func TestService_UpdateStatusRecordsHistory(t *testing.T) {
	svc, ctx, actor := newTestService(t)
	r, err := svc.Create(ctx, validResident(), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(ctx, r.ID, map[string]any{"status": StatusInactive, "roomNumber": "12B"},
		"Transferência para outra unidade", actor)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusInactive || updated.VersionNumber != 2 {
		t.Fatalf("unexpected update result: status=%s version=%d", updated.Status, updated.VersionNumber)
	}

	h, err := svc.History(ctx, r.ID, 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	got := h.History[0].ChangedFields
	if len(got) != 2 || got[0] != "roomNumber" || got[1] != "status" {
		t.Errorf("expected changed fields [roomNumber status], got %v", got)
	}
	if h.History[0].ChangedByName != "Enf. Carla Dias" {
		t.Errorf("expected actor name, got %q", h.History[0].ChangedByName)
	}
}

func TestService_PatchSchemaRejectsEnumValues(t *testing.T) {
	svc, ctx, actor := newTestService(t)
	r, err := svc.Create(ctx, validResident(), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	patches := []map[string]any{
		{"status": "Alta"},
		{"gender": "X"},
		{"cns": "12"},
		{"birthDate": "1938/11/02"},
	}
	for _, patch := range patches {
		if _, err := svc.Update(ctx, r.ID, patch, "Atualização cadastral", actor); !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("patch %v: expected validation error, got %v", patch, err)
		}
	}
}

func TestService_DeleteThenGet(t *testing.T) {
	svc, ctx, actor := newTestService(t)
	r, err := svc.Create(ctx, validResident(), actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.SoftDelete(ctx, r.ID, "Cadastro realizado em duplicidade", actor); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := svc.Get(ctx, r.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	h, err := svc.History(ctx, r.ID, 10, 0)
	if err != nil {
		t.Fatalf("history of deleted resident: %v", err)
	}
	if h.CurrentVersion != 2 {
		t.Errorf("expected current version 2, got %d", h.CurrentVersion)
	}
}

func TestColumns_Aligned(t *testing.T) {
	cols := columns()
	r := validResident()
	if got := len(cols.Values(r)); got != len(cols.Names) {
		t.Errorf("expected %d values, got %d", len(cols.Names), got)
	}
	if got := len(cols.Targets(r)); got != len(cols.Names) {
		t.Errorf("expected %d targets, got %d", len(cols.Names), got)
	}
}

func TestSQLDate(t *testing.T) {
	var birth string
	d := sqlDate{&birth}

	if err := d.ScanDate(pgtype.Date{Time: time.Date(1938, 11, 2, 0, 0, 0, 0, time.UTC), Valid: true}); err != nil {
		t.Fatal(err)
	}
	if birth != "1938-11-02" {
		t.Errorf("expected 1938-11-02, got %q", birth)
	}
	v, err := d.DateValue()
	if err != nil || !v.Valid || v.Time.Year() != 1938 || v.Time.Month() != time.November || v.Time.Day() != 2 {
		t.Errorf("unexpected value %+v, %v", v, err)
	}

	if err := d.ScanDate(pgtype.Date{}); err != nil || birth != "" {
		t.Errorf("NULL should scan to the empty string, got %q, %v", birth, err)
	}
	if v, err := d.DateValue(); err != nil || v.Valid {
		t.Errorf("empty string should encode as NULL, got %+v, %v", v, err)
	}

	birth = "02/11/1938"
	if _, err := d.DateValue(); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestColumns_DatesUseDateAdapter(t *testing.T) {
	r := validResident()
	cols := columns()
	for i, name := range cols.Names {
		if name != "birth_date" && name != "admission_date" {
			continue
		}
		if _, ok := cols.Values(r)[i].(pgtype.DateValuer); !ok {
			t.Errorf("%s value does not encode as a date", name)
		}
		if _, ok := cols.Targets(r)[i].(pgtype.DateScanner); !ok {
			t.Errorf("%s target does not scan a date", name)
		}
	}
}
