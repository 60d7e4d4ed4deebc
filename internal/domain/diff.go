package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldChange is one flattened property whose value differs between two record states.
type FieldChange struct {
	Path   string `json:"path"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// DiffRecords compares the stored state of a record with a freshly mapped one.
// Identity and bookkeeping columns are ignored; only properties and tabular
// sections take part. An empty result means an upsert would be a no-op.
func DiffRecords(before, after Record) ([]FieldChange, error) {
	beforeFlat, err := flattenRecord(before)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten stored record: %w", err)
	}
	afterFlat, err := flattenRecord(after)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten mapped record: %w", err)
	}

	keys := make(map[string]struct{}, len(beforeFlat)+len(afterFlat))
	for key := range beforeFlat {
		keys[key] = struct{}{}
	}
	for key := range afterFlat {
		keys[key] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	var changes []FieldChange
	for _, key := range ordered {
		b, hadBefore := beforeFlat[key]
		a, hasAfter := afterFlat[key]
		if hadBefore && hasAfter && a == b {
			continue
		}
		changes = append(changes, FieldChange{Path: key, Before: b, After: a})
	}
	return changes, nil
}

func flattenRecord(record Record) (map[string]string, error) {
	acc := map[string]string{}
	tree := map[string]any{}
	if len(record.Properties) > 0 {
		tree["properties"] = record.Properties
	}
	if len(record.Sections) > 0 {
		tree["sections"] = record.Sections
	}
	// Stored records come back from JSONB, mapped ones carry Go types; a JSON
	// round trip puts both on the same footing before comparing.
	normalized, err := normalizeJSON(tree)
	if err != nil {
		return nil, err
	}
	if err := flattenProperties("", normalized, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func normalizeJSON(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenProperties(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			if err := flattenProperties(nextPrefix, typed[key], acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			nextPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				nextPrefix = fmt.Sprintf("[%d]", idx)
			}
			if err := flattenProperties(nextPrefix, item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("property key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}

	return nil
}

func cloneProperties(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
