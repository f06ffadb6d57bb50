package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

const maxNamespaceLen = 63

var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// reserved namespaces are never handed to a tenant.
var reservedNamespaces = map[string]bool{
	"public":             true,
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
}

// ValidateNamespace rejects any name that is not safe to splice into a
// schema statement.
func ValidateNamespace(name string) error {
	if name == "" {
		return apperror.Validation("namespace name is required")
	}
	if len(name) > maxNamespaceLen {
		return apperror.Validation("namespace name %q exceeds %d characters", name, maxNamespaceLen)
	}
	if !namespacePattern.MatchString(name) {
		return apperror.Validation("invalid namespace name %q: must be alphanumeric/underscore only", name)
	}
	if reservedNamespaces[name] || strings.HasPrefix(name, "pg_") {
		return apperror.Validation("namespace name %q is reserved", name)
	}
	return nil
}

// quoteNamespace returns the validated name as a quoted SQL identifier.
func quoteNamespace(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// searchPath is the search_path value pinned on every connection of a
// namespace handle.
func searchPath(name string) string {
	return fmt.Sprintf("%s, public", quoteNamespace(name))
}
