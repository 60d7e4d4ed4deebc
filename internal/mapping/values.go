package mapping

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/pkg/validator"
)

// toNative coerces a wire value to the representation a field declares.
// Values that cannot be coerced are passed through so validation reports them.
func toNative(value enterprisedata.Value, ft validator.FieldType) any {
	if value.IsNull() {
		return nil
	}
	switch ft {
	case validator.FieldTypeString, validator.FieldTypeReference:
		if value.Kind() == enterprisedata.KindObject {
			return value.Native()
		}
		return strings.TrimSpace(value.Text())
	case validator.FieldTypeBoolean:
		if b, ok := value.AsBool(); ok {
			return b
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(value.Text())); err == nil {
			return b
		}
	case validator.FieldTypeInteger:
		if i, ok := value.AsInt(); ok {
			return i
		}
	case validator.FieldTypeDecimal:
		switch value.Kind() {
		case enterprisedata.KindDecimal, enterprisedata.KindInt:
			return value.Text()
		}
	case validator.FieldTypeTimestamp:
		if _, ok := value.AsTime(); ok {
			return value.Native()
		}
		return nil
	}
	return value.Native()
}

// fromNative builds a wire value from a stored property. Stored records may
// have passed through JSON, so numbers arrive as float64 and times as strings.
func fromNative(raw any, field Field) (enterprisedata.Value, error) {
	switch field.Type {
	case validator.FieldTypeTimestamp:
		t, ok := asTime(raw)
		if !ok {
			return enterprisedata.Null(), fmt.Errorf("value %v is not a timestamp", raw)
		}
		if field.DateOnly {
			return enterprisedata.DateValue(t), nil
		}
		return enterprisedata.DateTimeValue(t), nil
	case validator.FieldTypeDecimal:
		switch v := raw.(type) {
		case string:
			return enterprisedata.ParseDecimal(v)
		case float64:
			return enterprisedata.ParseDecimal(strconv.FormatFloat(v, 'f', -1, 64))
		case int64:
			return enterprisedata.IntValue(v), nil
		case int:
			return enterprisedata.IntValue(int64(v)), nil
		}
	case validator.FieldTypeInteger:
		if i, ok := asInt(raw); ok {
			return enterprisedata.IntValue(i), nil
		}
		return enterprisedata.Null(), fmt.Errorf("value %v is not an integer", raw)
	}
	return genericValue(raw)
}

func genericValue(raw any) (enterprisedata.Value, error) {
	switch v := raw.(type) {
	case nil:
		return enterprisedata.Null(), nil
	case string:
		return enterprisedata.StringValue(v), nil
	case bool:
		return enterprisedata.BoolValue(v), nil
	case int:
		return enterprisedata.IntValue(int64(v)), nil
	case int64:
		return enterprisedata.IntValue(v), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return enterprisedata.IntValue(int64(v)), nil
		}
		return enterprisedata.ParseDecimal(strconv.FormatFloat(v, 'f', -1, 64))
	case time.Time:
		return enterprisedata.DateTimeValue(v), nil
	case map[string]any:
		nested, err := objectFromMap(v)
		if err != nil {
			return enterprisedata.Null(), err
		}
		return enterprisedata.ObjectValue(nested), nil
	default:
		return enterprisedata.Null(), fmt.Errorf("unsupported value type %T", raw)
	}
}

func objectFromMap(m map[string]any) (*enterprisedata.Object, error) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	obj := &enterprisedata.Object{}
	for _, key := range keys {
		value, err := genericValue(m[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if !value.IsNull() {
			obj.Set(key, value)
		}
	}
	return obj, nil
}

func sectionFromRows(name string, rows []map[string]any) (enterprisedata.TabularSection, error) {
	section := enterprisedata.TabularSection{Name: name, RowName: enterprisedata.DefaultRowName}
	for idx, row := range rows {
		cells, err := objectFromMap(row)
		if err != nil {
			return section, fmt.Errorf("row %d: %w", idx+1, err)
		}
		section.Rows = append(section.Rows, cells.Properties)
	}
	return section, nil
}

func asTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func asInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// identityPart renders a property for use inside an identity key. Dates are
// reduced to the calendar day so stored and freshly parsed values agree.
func identityPart(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		if t, ok := asTime(v); ok && strings.Contains(v, "-") && len(v) >= 10 {
			return t.Format("2006-01-02")
		}
		return strings.ToLower(strings.TrimSpace(v))
	case time.Time:
		return v.Format("2006-01-02")
	case map[string]any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
