package resident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/history"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/internal/platform/versioning/versionhttp"
)

// NewTable maps residents to the residents table of a tenant namespace.
func NewTable() *versioning.PGTable[Resident, *Resident] {
	return versioning.NewPGTable(columns())
}

func columns() versioning.Columns[Resident, *Resident] {
	return versioning.Columns[Resident, *Resident]{
		Table: "residents",
		Names: []string{
			"full_name", "social_name", "cpf", "cns", "gender",
			"birth_date", "status", "room_number", "admission_date",
		},
		Values: func(r *Resident) []any {
			return []any{r.FullName, r.SocialName, r.CPF, r.CNS, r.Gender,
				sqlDate{&r.BirthDate}, r.Status, r.RoomNumber, sqlDate{&r.AdmissionDate}}
		},
		Targets: func(r *Resident) []any {
			return []any{&r.FullName, &r.SocialName, &r.CPF, &r.CNS, &r.Gender,
				sqlDate{&r.BirthDate}, &r.Status, &r.RoomNumber, sqlDate{&r.AdmissionDate}}
		},
		OrderBy: "full_name, id",
	}
}

// sqlDate carries a YYYY-MM-DD field to and from a DATE column. The empty
// string is NULL.
type sqlDate struct{ s *string }

func (d sqlDate) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		*d.s = ""
		return nil
	}
	*d.s = v.Time.Format(dateLayout)
	return nil
}

func (d sqlDate) DateValue() (pgtype.Date, error) {
	if *d.s == "" {
		return pgtype.Date{}, nil
	}
	t, err := time.Parse(dateLayout, *d.s)
	if err != nil {
		return pgtype.Date{}, fmt.Errorf("date %q: %w", *d.s, err)
	}
	return pgtype.Date{Time: t, Valid: true}, nil
}

type Service struct {
	*versioning.Engine[Resident, *Resident]
}

func NewService(table versioning.Table[Resident], store history.Store, logger zerolog.Logger, opts versioning.Options) (*Service, error) {
	engine, err := versioning.NewEngine[Resident, *Resident](Descriptor(), table, store, logger, opts)
	if err != nil {
		return nil, err
	}
	return &Service{Engine: engine}, nil
}

// Create admits a resident. Residents without a status start active.
func (s *Service) Create(ctx context.Context, input *Resident, actorID uuid.UUID) (*Resident, error) {
	if input != nil && input.Status == "" {
		input.Status = StatusActive
	}
	return s.Engine.Create(ctx, input, actorID)
}

func RegisterRoutes(api *echo.Group, svc *Service) {
	versionhttp.NewHandler[Resident, *Resident](svc, versionhttp.Config{
		Path:       "/residents",
		ReadRoles:  []string{auth.RoleNurse, auth.RoleCaregiver, auth.RolePhysician},
		WriteRoles: []string{auth.RoleNurse, auth.RolePhysician},
	}).RegisterRoutes(api)
}
