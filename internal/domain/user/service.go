package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/ilpi/internal/platform/apperror"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/history"
	"github.com/ehr/ilpi/internal/platform/versioning"
	"github.com/ehr/ilpi/internal/platform/versioning/versionhttp"
)

func NewTable() *versioning.PGTable[User, *User] {
	return versioning.NewPGTable(columns())
}

func columns() versioning.Columns[User, *User] {
	return versioning.Columns[User, *User]{
		Table: "users",
		Names: []string{"name", "email", "role", "is_active", "password_hash"},
		Values: func(u *User) []any {
			return []any{u.Name, u.Email, u.Role, u.IsActive, u.PasswordHash}
		},
		Targets: func(u *User) []any {
			return []any{&u.Name, &u.Email, &u.Role, &u.IsActive, &u.PasswordHash}
		},
		OrderBy: "name, id",
	}
}

// Directory resolves actor names from the users table of the namespace the
// querier is bound to. Deleted users keep their name in history.
type Directory struct{}

func (Directory) DisplayNames(ctx context.Context, q db.Querier, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := q.Query(ctx, "SELECT id, name FROM users WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("users.DisplayNames: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("users.DisplayNames: scan: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

type Service struct {
	*versioning.Engine[User, *User]
	cost int
}

type ServiceOption func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) { s.cost = cost }
}

func NewService(table versioning.Table[User], store history.Store, logger zerolog.Logger, opts versioning.Options, sopts ...ServiceOption) (*Service, error) {
	engine, err := versioning.NewEngine[User, *User](Descriptor(), table, store, logger, opts)
	if err != nil {
		return nil, err
	}
	s := &Service{Engine: engine, cost: bcrypt.DefaultCost}
	for _, opt := range sopts {
		opt(s)
	}
	return s, nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperror.Validation("password must have at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Create registers a user. The plaintext password is replaced by its bcrypt
// hash before anything is stored.
func (s *Service) Create(ctx context.Context, input *User, actorID uuid.UUID) (*User, error) {
	if input == nil {
		return s.Engine.Create(ctx, input, actorID)
	}
	if input.PasswordHash != "" {
		return nil, apperror.Validation("passwordHash is read-only")
	}
	hash, err := s.hash(input.Password)
	if err != nil {
		return nil, err
	}
	input.PasswordHash = hash
	input.Password = ""
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.IsActive = true
	return s.Engine.Create(ctx, input, actorID)
}

// Update accepts "password" in place of the stored hash.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch map[string]any, changeReason string, actorID uuid.UUID) (*User, error) {
	if _, ok := patch["passwordHash"]; ok {
		return nil, apperror.Validation("passwordHash is read-only")
	}
	next := make(map[string]any, len(patch))
	for k, v := range patch {
		next[k] = v
	}
	if raw, ok := next["password"]; ok {
		password, _ := raw.(string)
		hash, err := s.hash(password)
		if err != nil {
			return nil, err
		}
		delete(next, "password")
		next["passwordHash"] = hash
	}
	if email, ok := next["email"].(string); ok {
		next["email"] = strings.ToLower(strings.TrimSpace(email))
	}
	return s.Engine.Update(ctx, id, next, changeReason, actorID)
}

// CheckPassword reports whether password matches the user's stored hash.
func (s *Service) CheckPassword(ctx context.Context, id uuid.UUID, password string) (bool, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil, nil
}

func RegisterRoutes(api *echo.Group, svc *Service) {
	versionhttp.NewHandler[User, *User](svc, versionhttp.Config{
		Path:       "/users",
		ReadRoles:  []string{auth.RoleAdmin},
		WriteRoles: []string{auth.RoleAdmin},
	}).RegisterRoutes(api)
}
