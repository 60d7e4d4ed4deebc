package mapping

import (
	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/pkg/validator"
)

// ValidationResult is the outcome of a structural check. It never carries a Go
// error: soft problems are warnings, unusable objects have IsValid false.
type ValidationResult = validator.ValidationResult

// Mapper converts one wire object type to and from local records.
type Mapper interface {
	// ObjectType is the canonical wire type, e.g. "Справочник.Контрагенты".
	ObjectType() string
	RecordType() string
	// MapInbound is best effort: missing optional fields are left out.
	MapInbound(obj *enterprisedata.Object) (domain.Record, error)
	// MapOutbound fails for a record of another type or one with nothing to send.
	MapOutbound(rec domain.Record) (*enterprisedata.Object, error)
	ValidateStructure(obj *enterprisedata.Object) ValidationResult
	// IdentityKeys lists the ways to find an existing record, most reliable first.
	IdentityKeys(rec domain.Record) []domain.IdentityKey
}
