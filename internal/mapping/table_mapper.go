package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/pkg/validator"
)

// KeyedSection is the nested block in which EnterpriseData carries the
// properties that identify an object.
const KeyedSection = "КлючевыеСвойства"

// Field binds one wire property to one record property.
type Field struct {
	Wire string
	Key  string
	Type validator.FieldType
	// Keyed fields live in KeyedSection on the wire.
	Keyed    bool
	Required bool
	// Soft turns a missing required field into a warning.
	Soft bool
	// DateOnly timestamps are written as xs:date.
	DateOnly  bool
	MaxLength int
}

// IdentityRule derives one identity key from record properties. The key is
// produced only when every field in Fields is set.
type IdentityRule struct {
	Kind     string
	Fields   []string
	Optional []string
}

// Schema declares a table-driven mapper.
type Schema struct {
	ObjectType string
	RecordType string
	Fields     []Field
	Identity   []IdentityRule
	// KeepSections copies tabular sections verbatim into the record.
	KeepSections bool
	// TypeKey, when set, stores the concrete wire type so wildcard families
	// can be written back under their own type.
	TypeKey string
}

// TableMapper implements Mapper from a Schema.
type TableMapper struct {
	schema      Schema
	definitions map[string]validator.FieldDefinition
	validator   *validator.FieldValidator
}

// NewTableMapper builds a mapper for schema.
func NewTableMapper(schema Schema) *TableMapper {
	definitions := make(map[string]validator.FieldDefinition, len(schema.Fields))
	for _, field := range schema.Fields {
		definitions[field.Key] = validator.FieldDefinition{
			Type:      field.Type,
			Required:  field.Required,
			Soft:      field.Soft,
			MaxLength: field.MaxLength,
		}
	}
	return &TableMapper{
		schema:      schema,
		definitions: definitions,
		validator:   validator.NewFieldValidator(),
	}
}

func (m *TableMapper) ObjectType() string { return m.schema.ObjectType }
func (m *TableMapper) RecordType() string { return m.schema.RecordType }

// ValidateStructure fails only when neither the keyed section nor any declared
// top-level field is present. Field problems are reported by the validator.
func (m *TableMapper) ValidateStructure(obj *enterprisedata.Object) ValidationResult {
	result := validator.NewResult()
	if obj == nil {
		result.AddError("", "object is nil")
		return result
	}

	if _, ok := keyedSection(obj); !ok {
		if !m.hasTopLevelField(obj) {
			result.AddError(KeyedSection, "section %s is missing and no known fields are present", KeyedSection)
			return result
		}
		result.AddWarning(KeyedSection, "section %s is missing, reading top-level properties", KeyedSection)
	}

	result.Merge(m.validator.ValidateProperties(m.readFields(obj), m.definitions))
	return result
}

func (m *TableMapper) hasTopLevelField(obj *enterprisedata.Object) bool {
	for _, field := range m.schema.Fields {
		if value, ok := obj.Get(field.Wire); ok && !value.IsNull() {
			return true
		}
	}
	return false
}

// MapInbound converts the declared fields; unknown properties are ignored.
func (m *TableMapper) MapInbound(obj *enterprisedata.Object) (domain.Record, error) {
	if obj == nil {
		return domain.Record{}, fmt.Errorf("object is nil")
	}
	rec := domain.NewRecord(m.schema.RecordType, m.readFields(obj))
	rec.ExternalRef = strings.TrimSpace(obj.Ref)
	if m.schema.TypeKey != "" {
		rec.Properties[m.schema.TypeKey] = obj.Type
	}
	if m.schema.KeepSections {
		for _, section := range obj.Sections {
			rec.Sections[section.Name] = section.Native()
		}
	}
	for _, key := range m.IdentityKeys(rec) {
		if key.Kind != domain.KeyExternalRef {
			natural := key
			rec.NaturalKey = &natural
			break
		}
	}
	return rec, nil
}

func (m *TableMapper) readFields(obj *enterprisedata.Object) map[string]any {
	keyed, hasKeyed := keyedSection(obj)
	out := make(map[string]any, len(m.schema.Fields))
	for _, field := range m.schema.Fields {
		var (
			value enterprisedata.Value
			found bool
		)
		if field.Keyed && hasKeyed {
			value, found = keyed.Get(field.Wire)
		}
		if !found || value.IsNull() {
			value, found = obj.Get(field.Wire)
		}
		if !field.Keyed && (!found || value.IsNull()) && hasKeyed {
			value, found = keyed.Get(field.Wire)
		}
		if !found {
			continue
		}
		if native := toNative(value, field.Type); native != nil {
			out[field.Key] = native
		}
	}
	return out
}

func keyedSection(obj *enterprisedata.Object) (*enterprisedata.Object, bool) {
	value, ok := obj.Get(KeyedSection)
	if !ok {
		return nil, false
	}
	return value.AsObject()
}

// MapOutbound writes keyed fields into KeyedSection and the rest at top level.
func (m *TableMapper) MapOutbound(rec domain.Record) (*enterprisedata.Object, error) {
	if rec.RecordType != m.schema.RecordType {
		return nil, fmt.Errorf("mapper for %s cannot map record of type %q", m.schema.RecordType, rec.RecordType)
	}
	if !rec.HasState() {
		return nil, fmt.Errorf("record %s carries nothing worth sending", rec.ID)
	}

	objectType := m.schema.ObjectType
	if m.schema.TypeKey != "" {
		if concrete := rec.String(m.schema.TypeKey); concrete != "" {
			objectType = concrete
		}
	}
	if strings.HasSuffix(objectType, "*") {
		return nil, fmt.Errorf("record %s has no concrete object type", rec.ID)
	}

	obj := enterprisedata.NewObject(objectType, rec.ExternalRef)
	keyed := &enterprisedata.Object{}
	for _, field := range m.schema.Fields {
		raw, ok := rec.Properties[field.Key]
		if !ok || raw == nil {
			continue
		}
		value, err := fromNative(raw, field)
		if err != nil {
			return nil, fmt.Errorf("failed to map field %s: %w", field.Key, err)
		}
		if value.IsNull() {
			continue
		}
		if field.Keyed {
			keyed.Set(field.Wire, value)
		} else {
			obj.Set(field.Wire, value)
		}
	}
	if len(keyed.Properties) > 0 {
		obj.Properties = append(enterprisedata.Properties{{Name: KeyedSection, Value: enterprisedata.ObjectValue(keyed)}}, obj.Properties...)
	}

	if m.schema.KeepSections {
		names := make([]string, 0, len(rec.Sections))
		for name := range rec.Sections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			section, err := sectionFromRows(name, rec.Sections[name])
			if err != nil {
				return nil, fmt.Errorf("failed to map section %s: %w", name, err)
			}
			obj.SetSection(section)
		}
	}

	if len(obj.Properties) == 0 && len(obj.Sections) == 0 {
		return nil, fmt.Errorf("record %s carries nothing worth sending", rec.ID)
	}
	return obj, nil
}

// IdentityKeys returns the external ref first, then every satisfied rule.
func (m *TableMapper) IdentityKeys(rec domain.Record) []domain.IdentityKey {
	var keys []domain.IdentityKey
	if ref := strings.TrimSpace(rec.ExternalRef); ref != "" {
		keys = append(keys, domain.IdentityKey{Kind: domain.KeyExternalRef, Value: ref})
	}
	for _, rule := range m.schema.Identity {
		parts := make([]string, 0, len(rule.Fields)+len(rule.Optional))
		complete := true
		for _, key := range rule.Fields {
			part := identityPart(rec.Properties[key])
			if part == "" {
				complete = false
				break
			}
			parts = append(parts, part)
		}
		if !complete {
			continue
		}
		for _, key := range rule.Optional {
			if part := identityPart(rec.Properties[key]); part != "" {
				parts = append(parts, part)
			}
		}
		keys = append(keys, domain.IdentityKey{Kind: rule.Kind, Value: strings.Join(parts, "|")})
	}
	return keys
}
