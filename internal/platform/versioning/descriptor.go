package versioning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

type FieldClass int

const (
	Public FieldClass = iota
	// Sensitive values never reach a history snapshot or a response; they
	// are replaced by a boolean presence marker.
	Sensitive
)

// Descriptor declares how the engine treats one entity type.
type Descriptor struct {
	// EntityType names the entity in the history ledger, e.g. "resident".
	EntityType string
	// Fields lists the mutable fields by JSON name. Update input may only
	// touch these keys.
	Fields map[string]FieldClass
	// IdentityRecord marks entities whose id is also an actor id, such as
	// users. Deleting one's own record is forbidden.
	IdentityRecord bool
	// PatchSchema is an optional JSON Schema every update input must satisfy.
	PatchSchema string

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

func (d *Descriptor) compile() error {
	d.once.Do(func() {
		if d.EntityType == "" {
			d.err = fmt.Errorf("descriptor needs an entity type")
			return
		}
		for name := range d.Fields {
			if metaKeys[name] {
				d.err = fmt.Errorf("%s: field %q is managed by the engine", d.EntityType, name)
				return
			}
		}
		if d.PatchSchema == "" {
			return
		}
		url := "mem://" + d.EntityType + "/patch.json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, strings.NewReader(d.PatchSchema)); err != nil {
			d.err = fmt.Errorf("%s: add patch schema: %w", d.EntityType, err)
			return
		}
		d.schema, d.err = compiler.Compile(url)
		if d.err != nil {
			d.err = fmt.Errorf("%s: compile patch schema: %w", d.EntityType, d.err)
		}
	})
	return d.err
}

// checkPatch rejects keys outside Fields and input that fails PatchSchema.
func (d *Descriptor) checkPatch(patch map[string]any) error {
	if len(patch) == 0 {
		return apperror.Validation("no fields to update")
	}
	var unknown []string
	for key := range patch {
		if _, ok := d.Fields[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperror.Validation("%s: unknown or read-only fields: %s", d.EntityType, strings.Join(unknown, ", "))
	}
	if d.schema == nil {
		return nil
	}

	doc, err := normalize(patch)
	if err != nil {
		return apperror.Validation("%s: invalid input: %v", d.EntityType, err)
	}
	if err := d.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return apperror.Validation("%s: %s", d.EntityType, describe(ve))
		}
		return apperror.Validation("%s: %v", d.EntityType, err)
	}
	return nil
}

// normalize turns Go values into the decoded-JSON shapes the schema validator
// understands.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// describe flattens the innermost schema failures into one line.
func describe(ve *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
