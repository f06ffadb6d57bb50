package versioning

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_live_idx", Detail: "Key (email)=(ana@lar.org) already exists."}

	if !isUniqueViolation(fmt.Errorf("users.Insert: %w", dup)) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("connection reset")) {
		t.Error("plain error is not a unique violation")
	}

	got := uniqueDetail(dup)
	if got != "duplicate value violates users_email_live_idx" {
		t.Errorf("unexpected detail %q", got)
	}
}
