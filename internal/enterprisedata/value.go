package enterprisedata

import (
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Decimal is the arbitrary-precision decimal used for numeric properties.
type Decimal = apd.Decimal

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInt
	KindDecimal
	KindDateTime
	KindDate
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindDateTime:
		return "dateTime"
	case KindDate:
		return "date"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

const (
	dateTimeLayout = "2006-01-02T15:04:05.999999999"
	dateLayout     = "2006-01-02"
)

// Value is a property value: a typed scalar or a nested object. The zero Value
// is Null, which is what unparseable dates decode to.
type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	dec  *apd.Decimal
	t    time.Time
	obj  *Object
}

// Null returns the absent value.
func Null() Value { return Value{} }

// StringValue wraps a plain string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// DecimalValue wraps a decimal; a nil decimal yields Null.
func DecimalValue(d *apd.Decimal) Value {
	if d == nil {
		return Null()
	}
	return Value{kind: KindDecimal, dec: d}
}

// ParseDecimal builds a decimal value from its textual form.
func ParseDecimal(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Null(), err
	}
	return DecimalValue(d), nil
}

// DateTimeValue wraps a timestamp.
func DateTimeValue(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

// DateValue wraps a calendar date; the clock part is dropped.
func DateValue(t time.Time) Value {
	return Value{kind: KindDate, t: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ObjectValue wraps a nested object; a nil object yields Null.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }

func (v Value) AsDecimal() (*apd.Decimal, bool) { return v.dec, v.kind == KindDecimal }

func (v Value) AsTime() (time.Time, bool) {
	return v.t, v.kind == KindDateTime || v.kind == KindDate
}

func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// Text renders the scalar the way it is written on the wire. Nested objects and
// Null render as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		return v.dec.Text('f')
	case KindDateTime:
		return formatDateTime(v.t)
	case KindDate:
		return v.t.Format(dateLayout)
	default:
		return ""
	}
}

// Native converts the value into plain Go data for domain records: decimals
// become their canonical text, nested objects become maps, zero dates become nil.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDecimal:
		return v.dec.Text('f')
	case KindDateTime, KindDate:
		if isEmptyDate(v.t) {
			return nil
		}
		return v.t
	case KindObject:
		return v.obj.Native()
	default:
		return nil
	}
}

// Equal compares kind and content. Decimals compare numerically, times by instant.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindDecimal:
		return v.dec.Cmp(other.dec) == 0
	case KindDateTime, KindDate:
		return v.t.Equal(other.t)
	case KindObject:
		return v.obj.Equal(other.obj)
	}
	return false
}

func formatDateTime(t time.Time) string {
	if _, offset := t.Zone(); offset != 0 {
		return t.Format(time.RFC3339Nano)
	}
	return t.Format(dateTimeLayout)
}

// 1C writes 0001-01-01T00:00:00 for an empty date.
func isEmptyDate(t time.Time) bool {
	return t.IsZero() || (t.Year() == 1 && t.YearDay() == 1 && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0)
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	dateTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

func parseDateTime(raw string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
