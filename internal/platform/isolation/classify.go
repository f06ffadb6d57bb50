// Package isolation watches the statements issued against tenant namespaces
// and reports patterns that contradict schema-per-tenant isolation. It only
// observes: findings are logged and counted, never returned to the caller.
package isolation

import (
	"strings"
)

type Scope int

const (
	Unknown Scope = iota
	// TenantScoped tables exist once per tenant namespace.
	TenantScoped
	// Shared tables live in the public schema and serve every tenant.
	Shared
)

func (s Scope) String() string {
	switch s {
	case TenantScoped:
		return "tenant"
	case Shared:
		return "shared"
	}
	return "unknown"
}

// DefaultClassification lists the tables the server creates. Every tenant
// namespace carries its own _migrations ledger, so it counts as tenant-scoped
// even though public has one too.
var DefaultClassification = map[string]Scope{
	"residents":      TenantScoped,
	"users":          TenantScoped,
	"vital_signs":    TenantScoped,
	"prescriptions":  TenantScoped,
	"entity_history": TenantScoped,
	"_migrations":    TenantScoped,
	"tenants":        Shared,
}

// Classifier maps table names to scopes.
type Classifier struct {
	scopes map[string]Scope
	stems  []string
}

func NewClassifier(table map[string]Scope) *Classifier {
	c := &Classifier{scopes: make(map[string]Scope, len(table))}
	for name, scope := range table {
		name = strings.ToLower(name)
		c.scopes[name] = scope
		// underscore tables are bookkeeping and match by exact name only
		if scope == TenantScoped && !strings.HasPrefix(name, "_") {
			c.stems = append(c.stems, stem(name))
		}
	}
	return c
}

func (c *Classifier) Scope(table string) Scope {
	return c.scopes[strings.ToLower(table)]
}

// LooksTenantScoped reports whether a relation is, or is named like, a
// tenant-scoped table. "resident_contacts" looks tenant-scoped because
// "residents" is.
func (c *Classifier) LooksTenantScoped(relation string) bool {
	relation = strings.ToLower(relation)
	switch c.scopes[relation] {
	case TenantScoped:
		return true
	case Shared:
		return false
	}
	for _, s := range c.stems {
		if strings.Contains(relation, s) {
			return true
		}
	}
	return false
}

func stem(name string) string {
	if strings.HasSuffix(name, "s") && len(name) > 3 {
		return name[:len(name)-1]
	}
	return name
}
