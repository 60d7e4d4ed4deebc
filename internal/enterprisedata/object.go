package enterprisedata

// DefaultRowName is the element name used for tabular-section rows when none is known.
const DefaultRowName = "Строка"

// Property is one named value of an object or row.
type Property struct {
	Name  string
	Value Value
}

// Properties keeps document order; names are unique within one list.
type Properties []Property

// Get returns the value stored under name.
func (p Properties) Get(name string) (Value, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return Null(), false
}

// Set replaces the value stored under name or appends a new property.
func (p *Properties) Set(name string, value Value) {
	for idx := range *p {
		if (*p)[idx].Name == name {
			(*p)[idx].Value = value
			return
		}
	}
	*p = append(*p, Property{Name: name, Value: value})
}

// Native flattens the list into a map of plain Go values.
func (p Properties) Native() map[string]any {
	out := make(map[string]any, len(p))
	for _, prop := range p {
		if prop.Value.IsNull() {
			continue
		}
		out[prop.Name] = prop.Value.Native()
	}
	return out
}

func (p Properties) clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for idx, prop := range p {
		out[idx] = Property{Name: prop.Name, Value: prop.Value.clone()}
	}
	return out
}

func (p Properties) equal(other Properties) bool {
	if len(p) != len(other) {
		return false
	}
	for _, prop := range p {
		value, ok := other.Get(prop.Name)
		if !ok || !prop.Value.Equal(value) {
			return false
		}
	}
	return true
}

// TabularSection is a repeating-row sub-structure such as the goods lines of a document.
type TabularSection struct {
	Name    string
	RowName string
	Rows    []Properties
}

// Native converts the rows into plain Go maps.
func (s TabularSection) Native() []map[string]any {
	rows := make([]map[string]any, 0, len(s.Rows))
	for _, row := range s.Rows {
		rows = append(rows, row.Native())
	}
	return rows
}

// Object is one typed object of a message body, or a nested structure inside a
// property (then Type and Ref are empty).
type Object struct {
	Ref        string
	Type       string
	Properties Properties
	Sections   []TabularSection
}

// NewObject creates an empty object of the given wire type.
func NewObject(objectType, ref string) *Object {
	return &Object{Type: objectType, Ref: ref}
}

// Get returns a property value.
func (o *Object) Get(name string) (Value, bool) {
	return o.Properties.Get(name)
}

// Set stores a property value.
func (o *Object) Set(name string, value Value) {
	o.Properties.Set(name, value)
}

// Section returns the tabular section with the given name.
func (o *Object) Section(name string) (TabularSection, bool) {
	for _, section := range o.Sections {
		if section.Name == name {
			return section, true
		}
	}
	return TabularSection{}, false
}

// SetSection replaces or appends a tabular section.
func (o *Object) SetSection(section TabularSection) {
	for idx := range o.Sections {
		if o.Sections[idx].Name == section.Name {
			o.Sections[idx] = section
			return
		}
	}
	o.Sections = append(o.Sections, section)
}

// Depth is 1 for a flat object and grows by one per level of nesting; a
// tabular-section row counts as one level.
func (o *Object) Depth() int {
	if o == nil {
		return 0
	}
	deepest := 0
	for _, prop := range o.Properties {
		if nested, ok := prop.Value.AsObject(); ok {
			deepest = max(deepest, nested.Depth())
		}
	}
	for _, section := range o.Sections {
		for _, row := range section.Rows {
			rowDepth := 1
			for _, prop := range row {
				if nested, ok := prop.Value.AsObject(); ok {
					rowDepth = max(rowDepth, 1+nested.Depth())
				}
			}
			deepest = max(deepest, rowDepth)
		}
	}
	return deepest + 1
}

// Native flattens properties and sections into one map, sections as row lists.
func (o *Object) Native() map[string]any {
	out := o.Properties.Native()
	for _, section := range o.Sections {
		out[section.Name] = section.Native()
	}
	return out
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	out := &Object{
		Ref:        o.Ref,
		Type:       o.Type,
		Properties: o.Properties.clone(),
	}
	for _, section := range o.Sections {
		copied := TabularSection{Name: section.Name, RowName: section.RowName}
		for _, row := range section.Rows {
			copied.Rows = append(copied.Rows, row.clone())
		}
		out.Sections = append(out.Sections, copied)
	}
	return out
}

// Equal compares two objects structurally, ignoring property order.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Ref != other.Ref || o.Type != other.Type {
		return false
	}
	if !o.Properties.equal(other.Properties) {
		return false
	}
	if len(o.Sections) != len(other.Sections) {
		return false
	}
	for _, section := range o.Sections {
		match, ok := other.Section(section.Name)
		if !ok || len(match.Rows) != len(section.Rows) {
			return false
		}
		for idx := range section.Rows {
			if !section.Rows[idx].equal(match.Rows[idx]) {
				return false
			}
		}
	}
	return true
}

func (v Value) clone() Value {
	if v.kind == KindObject {
		return ObjectValue(v.obj.Clone())
	}
	if v.kind == KindDecimal {
		d := new(Decimal)
		d.Set(v.dec)
		return DecimalValue(d)
	}
	return v
}
