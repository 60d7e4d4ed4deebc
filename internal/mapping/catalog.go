package mapping

import (
	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/pkg/validator"
)

const (
	RecordOrganization = "organization"
	RecordCounterparty = "counterparty"
	RecordContract     = "contract"
	RecordProduct      = "product"
	RecordUnit         = "unit"
	RecordBankAccount  = "bank_account"
	RecordDocument     = "document"
)

var (
	fieldName     = Field{Wire: "Наименование", Key: "name", Type: validator.FieldTypeString, Keyed: true, Required: true, Soft: true}
	fieldFullName = Field{Wire: "НаименованиеПолное", Key: "full_name", Type: validator.FieldTypeString, Keyed: true}
	fieldINN      = Field{Wire: "ИНН", Key: "inn", Type: validator.FieldTypeString, Keyed: true, MaxLength: 12}
	fieldKPP      = Field{Wire: "КПП", Key: "kpp", Type: validator.FieldTypeString, Keyed: true, MaxLength: 9}
	fieldComment  = Field{Wire: "Комментарий", Key: "comment", Type: validator.FieldTypeString}
)

var taxIdentity = []IdentityRule{
	{Kind: domain.KeyTaxID, Fields: []string{"inn"}, Optional: []string{"kpp"}},
	{Kind: domain.KeyName, Fields: []string{"name"}},
}

// OrganizationSchema maps the organizations catalog.
var OrganizationSchema = Schema{
	ObjectType: "Справочник.Организации",
	RecordType: RecordOrganization,
	Fields: []Field{
		fieldName, fieldFullName, fieldINN, fieldKPP,
		{Wire: "ОГРН", Key: "ogrn", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "ЮридическоеФизическоеЛицо", Key: "legal_form", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "Префикс", Key: "prefix", Type: validator.FieldTypeString},
		fieldComment,
	},
	Identity: taxIdentity,
}

// CounterpartySchema maps the counterparties catalog.
var CounterpartySchema = Schema{
	ObjectType: "Справочник.Контрагенты",
	RecordType: RecordCounterparty,
	Fields: []Field{
		fieldName, fieldFullName, fieldINN, fieldKPP,
		{Wire: "ЮридическоеФизическоеЛицо", Key: "legal_form", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "СтранаРегистрации", Key: "country", Type: validator.FieldTypeObject},
		{Wire: "РегистрационныйНомер", Key: "registration_number", Type: validator.FieldTypeString},
		fieldComment,
	},
	Identity: taxIdentity,
}

// ContractSchema maps counterparty contracts.
var ContractSchema = Schema{
	ObjectType: "Справочник.Договоры",
	RecordType: RecordContract,
	Fields: []Field{
		fieldName,
		{Wire: "Номер", Key: "number", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "Дата", Key: "date", Type: validator.FieldTypeTimestamp, Keyed: true, DateOnly: true},
		{Wire: "ВидДоговора", Key: "kind", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "Организация", Key: "organization", Type: validator.FieldTypeObject, Keyed: true},
		{Wire: "Контрагент", Key: "counterparty", Type: validator.FieldTypeObject, Keyed: true},
		{Wire: "ВалютаВзаиморасчетов", Key: "currency", Type: validator.FieldTypeObject},
		{Wire: "СуммаДоговора", Key: "amount", Type: validator.FieldTypeDecimal},
		fieldComment,
	},
	Identity: []IdentityRule{
		{Kind: domain.KeyNumberDate, Fields: []string{"number", "date"}},
		{Kind: domain.KeyName, Fields: []string{"name"}},
	},
}

// ProductSchema maps the products catalog.
var ProductSchema = Schema{
	ObjectType: "Справочник.Номенклатура",
	RecordType: RecordProduct,
	Fields: []Field{
		fieldName, fieldFullName,
		{Wire: "Артикул", Key: "article", Type: validator.FieldTypeString, Keyed: true},
		{Wire: "ВидНоменклатуры", Key: "kind", Type: validator.FieldTypeString},
		{Wire: "ЕдиницаИзмерения", Key: "unit", Type: validator.FieldTypeObject},
		{Wire: "СтавкаНДС", Key: "vat_rate", Type: validator.FieldTypeString},
		{Wire: "Услуга", Key: "is_service", Type: validator.FieldTypeBoolean},
		fieldComment,
	},
	Identity: []IdentityRule{
		{Kind: domain.KeyCode, Fields: []string{"article"}},
		{Kind: domain.KeyName, Fields: []string{"name"}},
	},
}

// UnitSchema maps units of measure.
var UnitSchema = Schema{
	ObjectType: "Справочник.ЕдиницыИзмерения",
	RecordType: RecordUnit,
	Fields: []Field{
		{Wire: "Код", Key: "code", Type: validator.FieldTypeString, Keyed: true, Required: true, Soft: true},
		fieldName, fieldFullName,
		{Wire: "МеждународноеСокращение", Key: "international_abbreviation", Type: validator.FieldTypeString},
	},
	Identity: []IdentityRule{
		{Kind: domain.KeyCode, Fields: []string{"code"}},
		{Kind: domain.KeyName, Fields: []string{"name"}},
	},
}

// BankAccountSchema maps bank accounts; the bank classifier stays a nested map.
var BankAccountSchema = Schema{
	ObjectType: "Справочник.БанковскиеСчета",
	RecordType: RecordBankAccount,
	Fields: []Field{
		{Wire: "НомерСчета", Key: "account_number", Type: validator.FieldTypeString, Keyed: true, Required: true, Soft: true, MaxLength: 20},
		{Wire: "Банк", Key: "bank", Type: validator.FieldTypeObject, Keyed: true},
		{Wire: "Владелец", Key: "owner", Type: validator.FieldTypeObject, Keyed: true},
		{Wire: "ВалютаДенежныхСредств", Key: "currency", Type: validator.FieldTypeObject},
		{Wire: "Наименование", Key: "name", Type: validator.FieldTypeString},
	},
	Identity: []IdentityRule{
		{Kind: domain.KeyCode, Fields: []string{"account_number"}},
	},
}

// DocumentSchema maps every document type; tabular sections are kept verbatim.
var DocumentSchema = Schema{
	ObjectType: "Документ.*",
	RecordType: RecordDocument,
	TypeKey:    "document_type",
	Fields: []Field{
		{Wire: "Номер", Key: "number", Type: validator.FieldTypeString, Keyed: true, Required: true, Soft: true},
		{Wire: "Дата", Key: "date", Type: validator.FieldTypeTimestamp, Keyed: true, Required: true, Soft: true},
		{Wire: "Организация", Key: "organization", Type: validator.FieldTypeObject, Keyed: true},
		{Wire: "Контрагент", Key: "counterparty", Type: validator.FieldTypeObject},
		{Wire: "Договор", Key: "contract", Type: validator.FieldTypeObject},
		{Wire: "Валюта", Key: "currency", Type: validator.FieldTypeObject},
		{Wire: "Сумма", Key: "amount", Type: validator.FieldTypeDecimal},
		{Wire: "Проведен", Key: "posted", Type: validator.FieldTypeBoolean},
		fieldComment,
	},
	Identity: []IdentityRule{
		{Kind: domain.KeyNumberDate, Fields: []string{"document_type", "number", "date"}},
	},
	KeepSections: true,
}

// aliases are the English type names some peers use for the same objects.
var aliases = map[string][]string{
	RecordOrganization: {"Catalog.Organizations"},
	RecordCounterparty: {"Catalog.Counterparties"},
	RecordContract:     {"Catalog.Contracts"},
	RecordProduct:      {"Catalog.Products"},
	RecordUnit:         {"Catalog.Units"},
	RecordBankAccount:  {"Catalog.BankAccounts"},
	RecordDocument:     {"Document.*"},
}

// DefaultSchemas lists the schemas registered by DefaultRegistry.
func DefaultSchemas() []Schema {
	return []Schema{
		OrganizationSchema,
		CounterpartySchema,
		ContractSchema,
		ProductSchema,
		UnitSchema,
		BankAccountSchema,
		DocumentSchema,
	}
}

// DefaultRegistry registers every built-in mapper under its canonical type and aliases.
func DefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	for _, schema := range DefaultSchemas() {
		patterns := append([]string{schema.ObjectType}, aliases[schema.RecordType]...)
		if err := registry.Register(NewTableMapper(schema), patterns...); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
