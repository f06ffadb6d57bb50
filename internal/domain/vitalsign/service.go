package vitalsign

import (
	"context"
	"errors"
	"time"

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

func NewTable() *versioning.PGTable[VitalSign, *VitalSign] {
	return versioning.NewPGTable(columns())
}

func columns() versioning.Columns[VitalSign, *VitalSign] {
	return versioning.Columns[VitalSign, *VitalSign]{
		Table: "vital_signs",
		Names: []string{
			"resident_id", "measured_by", "measured_at",
			"systolic_bp", "diastolic_bp", "temperature",
			"heart_rate", "oxygen_saturation", "blood_glucose", "notes",
		},
		Values: func(v *VitalSign) []any {
			return []any{v.ResidentID, v.MeasuredBy, v.Timestamp,
				v.SystolicBloodPressure, v.DiastolicBloodPressure, v.Temperature,
				v.HeartRate, v.OxygenSaturation, v.BloodGlucose, v.Notes}
		},
		Targets: func(v *VitalSign) []any {
			return []any{&v.ResidentID, &v.MeasuredBy, &v.Timestamp,
				&v.SystolicBloodPressure, &v.DiastolicBloodPressure, &v.Temperature,
				&v.HeartRate, &v.OxygenSaturation, &v.BloodGlucose, &v.Notes}
		},
		OrderBy: "measured_at DESC, id",
	}
}

// Residents finds live residents of the caller's namespace.
type Residents interface {
	Get(ctx context.Context, id uuid.UUID) (*resident.Resident, error)
}

type Service struct {
	*versioning.Engine[VitalSign, *VitalSign]
	residents Residents
}

func NewService(table versioning.Table[VitalSign], store history.Store, residents Residents, logger zerolog.Logger, opts versioning.Options) (*Service, error) {
	engine, err := versioning.NewEngine[VitalSign, *VitalSign](Descriptor(), table, store, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Service{Engine: engine, residents: residents}, nil
}

// Create records measurements for a live resident. The acting user is the
// one who measured unless measuredBy says otherwise.
func (s *Service) Create(ctx context.Context, input *VitalSign, actorID uuid.UUID) (*VitalSign, error) {
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
	if input.MeasuredBy == nil && actorID != uuid.Nil {
		input.MeasuredBy = &actorID
	}
	input.Timestamp = input.Timestamp.UTC().Truncate(time.Microsecond)
	return s.Engine.Create(ctx, input, actorID)
}

func RegisterRoutes(api *echo.Group, svc *Service) {
	versionhttp.NewHandler[VitalSign, *VitalSign](svc, versionhttp.Config{
		Path:       "/vital-signs",
		ReadRoles:  []string{auth.RoleNurse, auth.RoleCaregiver, auth.RolePhysician},
		WriteRoles: []string{auth.RoleNurse, auth.RoleCaregiver},
	}).RegisterRoutes(api)
}
