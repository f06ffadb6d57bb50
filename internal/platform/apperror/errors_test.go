package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestKinds_WrapAndClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{"not found", NotFound("resident %s not found", "abc"), ErrNotFound, "resident abc not found"},
		{"validation", Validation("changeReason must have at least %d characters", 10), ErrValidation, "changeReason must have at least 10 characters"},
		{"forbidden", Forbidden("cannot delete own user"), ErrForbidden, "cannot delete own user"},
		{"configuration", Configuration("DATABASE_URL is required"), ErrConfiguration, "DATABASE_URL is required"},
		{"conflict", Conflict("version changed"), ErrConflict, "version changed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("expected %v to be %v", tt.err, tt.kind)
			}
			if got := Message(tt.err); got != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, got)
			}
		})
	}
}

func TestMessage_OuterContext(t *testing.T) {
	err := fmt.Errorf("residents.Update: %w", NotFound("resident not found"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected wrapped error to stay classifiable")
	}
	if got := Message(err); got != err.Error() {
		t.Errorf("expected full message when kind is not the prefix, got %q", got)
	}
}
