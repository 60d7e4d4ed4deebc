package sanitize

import (
	"fmt"

	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
)

const sampleStringLength = 256

// Sample builds the truncated diagnostic copy kept for objects of unmapped types:
// at most maxProps top-level properties, nested objects collapsed below the first
// level and sections reduced to their first row.
func (s *Sanitizer) Sample(obj *enterprisedata.Object, maxProps int) map[string]any {
	if obj == nil {
		return nil
	}
	trimmed := &enterprisedata.Object{Type: obj.Type, Ref: obj.Ref}
	for idx, prop := range obj.Properties {
		if idx >= maxProps {
			break
		}
		trimmed.Set(prop.Name, collapse(prop.Value))
	}
	sections := make(map[string]int, len(obj.Sections))
	for _, section := range obj.Sections {
		sections[section.Name] = len(section.Rows)
		if len(section.Rows) == 0 {
			continue
		}
		first := enterprisedata.Properties{}
		for _, cell := range section.Rows[0] {
			first.Set(cell.Name, collapseNested(cell.Value))
		}
		trimmed.SetSection(enterprisedata.TabularSection{Name: section.Name, RowName: section.RowName, Rows: []enterprisedata.Properties{first}})
	}

	limited := New(Config{MaxDepth: s.cfg.MaxDepth, MaxStringLength: sampleStringLength, MaxKeyLength: s.cfg.MaxKeyLength})
	cleaned, err := limited.SanitizeOutgoing(trimmed)
	if err != nil {
		return map[string]any{"type": obj.Type, "error": err.Error()}
	}

	sample := map[string]any{
		"type":       cleaned.Type,
		"properties": cleaned.Native(),
	}
	if cleaned.Ref != "" {
		sample["ref"] = cleaned.Ref
	}
	if len(sections) > 0 {
		sample["section_rows"] = sections
	}
	if len(obj.Properties) > maxProps {
		sample["omitted_properties"] = len(obj.Properties) - maxProps
	}
	return sample
}

func collapse(v enterprisedata.Value) enterprisedata.Value {
	nested, ok := v.AsObject()
	if !ok {
		return v
	}
	out := &enterprisedata.Object{}
	for _, prop := range nested.Properties {
		out.Set(prop.Name, collapseNested(prop.Value))
	}
	return enterprisedata.ObjectValue(out)
}

func collapseNested(v enterprisedata.Value) enterprisedata.Value {
	nested, ok := v.AsObject()
	if !ok {
		return v
	}
	return enterprisedata.StringValue(fmt.Sprintf("[%d nested fields]", len(nested.Properties)))
}
