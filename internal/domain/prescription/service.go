package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/domain/resident"
	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/history"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/internal/platform/versioning/versionhttp"
)

func NewTable() *versioning.PGTable[Prescription, *Prescription] {
	return versioning.NewPGTable(columns())
}

func columns() versioning.Columns[Prescription, *Prescription] {
	return versioning.Columns[Prescription, *Prescription]{
		Table: "prescriptions",
		Names: []string{
			"resident_id", "doctor_name", "doctor_crm", "doctor_crm_state",
			"prescription_type", "prescription_date", "valid_until", "is_active", "notes",
		},
		Values: func(p *Prescription) []any {
			return []any{p.ResidentID, p.DoctorName, p.DoctorCRM, p.DoctorCRMState,
				p.PrescriptionType, p.PrescriptionDate, p.ValidUntil, p.IsActive, p.Notes}
		},
		Targets: func(p *Prescription) []any {
			return []any{&p.ResidentID, &p.DoctorName, &p.DoctorCRM, &p.DoctorCRMState,
				&p.PrescriptionType, &p.PrescriptionDate, &p.ValidUntil, &p.IsActive, &p.Notes}
		},
		OrderBy: "prescription_date DESC, id",
	}
}

type Residents interface {
	Get(ctx context.Context, id uuid.UUID) (*resident.Resident, error)
}

type Service struct {
	*versioning.Engine[Prescription, *Prescription]
	residents Residents
}

func NewService(table versioning.Table[Prescription], store history.Store, residents Residents, logger zerolog.Logger, opts versioning.Options) (*Service, error) {
	engine, err := versioning.NewEngine[Prescription, *Prescription](Descriptor(), table, store, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Service{Engine: engine, residents: residents}, nil
}

// Create registers an active prescription for a live resident.
func (s *Service) Create(ctx context.Context, input *Prescription, actorID uuid.UUID) (*Prescription, error) {
	if input == nil {
		return s.Engine.Create(ctx, input, actorID)
	}
	if input.ResidentID == uuid.Nil {
		return nil, apperror.Validation("residentId is required")
	}
	if _, err := s.residents.Get(ctx, input.ResidentID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("resident %s not found", input.ResidentID)
		}
		return nil, err
	}
	input.IsActive = true
	return s.Engine.Create(ctx, input, actorID)
}

func RegisterRoutes(api *echo.Group, svc *Service) {
	versionhttp.NewHandler[Prescription, *Prescription](svc, versionhttp.Config{
		Path:       "/prescriptions",
		ReadRoles:  []string{auth.RoleNurse, auth.RoleCaregiver, auth.RolePhysician},
		WriteRoles: []string{auth.RolePhysician},
	}).RegisterRoutes(api)
}
