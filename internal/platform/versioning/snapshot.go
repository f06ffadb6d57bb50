package versioning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// toMap renders an entity as its decoded JSON object.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return m, nil
}

// fromMap decodes an object into a fresh entity.
func fromMap[E any](m map[string]any) (*E, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal entity state: %w", err)
	}
	var e E
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Mask replaces every sensitive value with true when a value is present and
// false otherwise, including when the key is absent. The input map is not
// modified.
func (d *Descriptor) Mask(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		if d.Fields[k] == Sensitive {
			out[k] = present(v)
			continue
		}
		out[k] = v
	}
	for k, class := range d.Fields {
		if _, ok := out[k]; !ok && class == Sensitive {
			out[k] = false
		}
	}
	return out
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	}
	return true
}

// Snapshot renders an entity as a masked JSON document for the ledger.
func (d *Descriptor) Snapshot(entity any) (json.RawMessage, error) {
	m, err := toMap(entity)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d.Mask(m))
}

// ChangedFields lists, sorted, the keys whose values differ between two
// unmasked states. Bookkeeping keys are skipped.
func ChangedFields(before, after map[string]any) []string {
	changed := []string{}
	seen := make(map[string]bool, len(after))
	for k, av := range after {
		seen[k] = true
		if diffIgnored[k] {
			continue
		}
		if !reflect.DeepEqual(before[k], av) {
			changed = append(changed, k)
		}
	}
	for k, bv := range before {
		if seen[k] || diffIgnored[k] {
			continue
		}
		if bv != nil {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// mergePatch applies an RFC 7386 merge patch to a copy of state. A nil value
// clears the key.
func mergePatch(state, patch map[string]any) (map[string]any, error) {
	result, err := deepCopyMap(state)
	if err != nil {
		return nil, err
	}
	patch, err = deepCopyMap(patch)
	if err != nil {
		return nil, err
	}
	mergePatchRecursive(result, patch)
	return result, nil
}

func mergePatchRecursive(target, patch map[string]any) {
	for key, patchVal := range patch {
		if patchVal == nil {
			delete(target, key)
			continue
		}

		patchMap, patchIsMap := patchVal.(map[string]any)
		if patchIsMap {
			targetMap, targetIsMap := target[key].(map[string]any)
			if targetIsMap {
				mergePatchRecursive(targetMap, patchMap)
			} else {
				target[key] = patchMap
			}
		} else {
			target[key] = patchVal
		}
	}
}

// deepCopyMap copies through JSON so nested values and numbers match what
// toMap produces.
func deepCopyMap(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copy state: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var result map[string]any
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("copy state: %w", err)
	}
	return result, nil
}
