package validator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
)

// FieldType names the value kinds a mapped record property may carry.
type FieldType string

const (
	FieldTypeString    FieldType = "STRING"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	FieldTypeInteger   FieldType = "INTEGER"
	FieldTypeDecimal   FieldType = "DECIMAL"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
	FieldTypeReference FieldType = "REFERENCE"
	FieldTypeObject    FieldType = "OBJECT"
	FieldTypeRows      FieldType = "ROWS"
)

// FieldValidator checks property maps against field definitions.
type FieldValidator struct{}

// NewFieldValidator creates a new field validator
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Soft downgrades a missing required field to a warning.
	Soft      bool `json:"soft,omitempty"`
	MaxLength int  `json:"max_length,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// NewResult returns a valid result with empty error and warning lists.
func NewResult() ValidationResult {
	return ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}
}

// AddError records a structural problem and marks the result invalid.
func (r *ValidationResult) AddError(field, format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// AddWarning records a soft problem.
func (r *ValidationResult) AddWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge folds other into r.
func (r *ValidationResult) Merge(other ValidationResult) {
	if !other.IsValid {
		r.IsValid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ValidateProperties validates properties against field definitions. Unknown
// properties are tolerated: peers routinely send more than a mapper reads.
func (fv *FieldValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := NewResult()

	for fieldName, fieldDef := range fieldDefinitions {
		value, exists := properties[fieldName]

		if !exists || value == nil || value == "" {
			if !fieldDef.Required {
				continue
			}
			if fieldDef.Soft {
				result.AddWarning(fieldName, "field '%s' is missing", fieldName)
				continue
			}
			result.AddError(fieldName, "required field '%s' is missing", fieldName)
			continue
		}

		if err := fv.validateFieldType(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
			continue
		}

		if fieldDef.MaxLength > 0 {
			if s, ok := value.(string); ok && utf8.RuneCountInString(s) > fieldDef.MaxLength {
				result.Warnings = append(result.Warnings, ValidationError{
					Field:   fieldName,
					Message: fmt.Sprintf("field '%s' length %d is greater than maximum %d", fieldName, utf8.RuneCountInString(s), fieldDef.MaxLength),
				})
			}
		}
	}

	return result
}

// normalizeFieldType ensures consistent uppercase enum comparison
func normalizeFieldType(ft FieldType) FieldType {
	return FieldType(strings.ToUpper(string(ft)))
}

// validateFieldType validates the type of a field value
func (fv *FieldValidator) validateFieldType(fieldName string, value any, expectedType FieldType) error {
	switch normalizeFieldType(expectedType) {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	case FieldTypeInteger:
		if !fv.isInteger(value) {
			return fmt.Errorf("field '%s' must be an integer, got %T", fieldName, value)
		}
	case FieldTypeDecimal:
		if !fv.isDecimal(value) {
			return fmt.Errorf("field '%s' must be a decimal, got %T", fieldName, value)
		}
	case FieldTypeTimestamp:
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("field '%s' must be a valid timestamp (RFC3339): %v", fieldName, err)
			}
		default:
			return fmt.Errorf("field '%s' must be a timestamp, got %T", fieldName, value)
		}
	case FieldTypeReference:
		strVal, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a reference string, got %T", fieldName, value)
		}
		if strings.TrimSpace(strVal) == "" {
			return fmt.Errorf("field '%s' must be a non-empty reference string", fieldName)
		}
	case FieldTypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field '%s' must be a nested object, got %T", fieldName, value)
		}
	case FieldTypeRows:
		if _, ok := value.([]map[string]any); !ok {
			return fmt.Errorf("field '%s' must be a list of rows, got %T", fieldName, value)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}

	return nil
}

// Helper methods for type checking
func (fv *FieldValidator) isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return err == nil
	default:
		return false
	}
}

func (fv *FieldValidator) isDecimal(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case *apd.Decimal:
		return v != nil
	case string:
		_, _, err := apd.NewFromString(strings.TrimSpace(v))
		return err == nil
	default:
		return false
	}
}
