package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
)

func counterpartyObject() *enterprisedata.Object {
	keyed := &enterprisedata.Object{}
	keyed.Set("Наименование", enterprisedata.StringValue(" Acme "))
	keyed.Set("ИНН", enterprisedata.IntValue(7701234567))
	keyed.Set("КПП", enterprisedata.StringValue("770101001"))

	obj := enterprisedata.NewObject("Справочник.Контрагенты", "GUID-1")
	obj.Set(KeyedSection, enterprisedata.ObjectValue(keyed))
	obj.Set("Комментарий", enterprisedata.StringValue("постоянный клиент"))
	obj.Set("НеизвестноеПоле", enterprisedata.StringValue("ignored"))
	return obj
}

func TestMapInboundReadsKeyedSection(t *testing.T) {
	m := NewTableMapper(CounterpartySchema)

	rec, err := m.MapInbound(counterpartyObject())
	require.NoError(t, err)

	assert.Equal(t, RecordCounterparty, rec.RecordType)
	assert.Equal(t, "GUID-1", rec.ExternalRef)
	assert.Equal(t, map[string]any{
		"name":    "Acme",
		"inn":     "7701234567",
		"kpp":     "770101001",
		"comment": "постоянный клиент",
	}, rec.Properties)
	require.NotNil(t, rec.NaturalKey)
	assert.Equal(t, domain.IdentityKey{Kind: domain.KeyTaxID, Value: "7701234567|770101001"}, *rec.NaturalKey)

	assert.Equal(t, []domain.IdentityKey{
		{Kind: domain.KeyExternalRef, Value: "GUID-1"},
		{Kind: domain.KeyTaxID, Value: "7701234567|770101001"},
		{Kind: domain.KeyName, Value: "acme"},
	}, m.IdentityKeys(rec))
}

func TestMapInboundFallsBackToTopLevel(t *testing.T) {
	obj := enterprisedata.NewObject("Catalog.Counterparties", "")
	obj.Set("Наименование", enterprisedata.StringValue("Acme"))

	m := NewTableMapper(CounterpartySchema)
	result := m.ValidateStructure(obj)
	assert.True(t, result.IsValid)
	assert.NotEmpty(t, result.Warnings)

	rec, err := m.MapInbound(obj)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.Properties["name"])
	assert.Equal(t, []domain.IdentityKey{{Kind: domain.KeyName, Value: "acme"}}, m.IdentityKeys(rec))
}

func TestValidateStructure(t *testing.T) {
	m := NewTableMapper(CounterpartySchema)

	t.Run("unusable without keyed section or known fields", func(t *testing.T) {
		obj := enterprisedata.NewObject("Справочник.Контрагенты", "GUID-2")
		obj.Set("Что-то", enterprisedata.StringValue("x"))

		result := m.ValidateStructure(obj)
		assert.False(t, result.IsValid)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, KeyedSection, result.Errors[0].Field)
	})

	t.Run("missing name is a warning", func(t *testing.T) {
		keyed := &enterprisedata.Object{}
		keyed.Set("ИНН", enterprisedata.StringValue("7701234567"))
		obj := enterprisedata.NewObject("Справочник.Контрагенты", "GUID-3")
		obj.Set(KeyedSection, enterprisedata.ObjectValue(keyed))

		result := m.ValidateStructure(obj)
		assert.True(t, result.IsValid)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "name", result.Warnings[0].Field)
	})

	t.Run("nil object", func(t *testing.T) {
		assert.False(t, m.ValidateStructure(nil).IsValid)
	})
}

func documentObject() *enterprisedata.Object {
	keyed := &enterprisedata.Object{}
	keyed.Set("Номер", enterprisedata.StringValue("0000-000123"))
	keyed.Set("Дата", enterprisedata.DateTimeValue(time.Date(2024, 5, 6, 10, 30, 0, 0, time.UTC)))

	amount, _ := enterprisedata.ParseDecimal("1500.50")
	obj := enterprisedata.NewObject("Документ.РеализацияТоваровУслуг", "DOC-1")
	obj.Set(KeyedSection, enterprisedata.ObjectValue(keyed))
	obj.Set("Сумма", amount)
	obj.Set("Проведен", enterprisedata.BoolValue(true))

	first := enterprisedata.Properties{}
	first.Set("Количество", enterprisedata.IntValue(2))
	first.Set("Цена", enterprisedata.StringValue("500"))
	second := enterprisedata.Properties{}
	second.Set("Количество", enterprisedata.IntValue(1))
	second.Set("Цена", enterprisedata.StringValue("500.50"))
	obj.SetSection(enterprisedata.TabularSection{Name: "Товары", RowName: "Строка", Rows: []enterprisedata.Properties{first, second}})
	return obj
}

func TestDocumentMapperKeepsSectionsAndType(t *testing.T) {
	m := NewTableMapper(DocumentSchema)

	rec, err := m.MapInbound(documentObject())
	require.NoError(t, err)

	assert.Equal(t, "Документ.РеализацияТоваровУслуг", rec.Properties["document_type"])
	assert.Equal(t, "1500.50", rec.Properties["amount"])
	assert.Equal(t, true, rec.Properties["posted"])
	assert.Len(t, rec.Sections["Товары"], 2)
	require.NotNil(t, rec.NaturalKey)
	assert.Equal(t, domain.KeyNumberDate, rec.NaturalKey.Kind)
	assert.Equal(t, "документ.реализациятоваровуслуг|0000-000123|2024-05-06", rec.NaturalKey.Value)

	out, err := m.MapOutbound(rec)
	require.NoError(t, err)
	assert.Equal(t, "Документ.РеализацияТоваровУслуг", out.Type)
	assert.Equal(t, "DOC-1", out.Ref)

	section, ok := out.Section("Товары")
	require.True(t, ok)
	assert.Len(t, section.Rows, 2)

	keyedValue, ok := out.Get(KeyedSection)
	require.True(t, ok)
	keyed, _ := keyedValue.AsObject()
	number, _ := keyed.Get("Номер")
	assert.Equal(t, "0000-000123", number.Text())
}

func TestMapOutboundAfterJSONStorage(t *testing.T) {
	m := NewTableMapper(ContractSchema)
	rec := domain.NewRecord(RecordContract, map[string]any{
		"name":   "Договор поставки",
		"number": "Д-15",
		"date":   "2024-02-01T00:00:00Z",
		"amount": float64(125000),
		"counterparty": map[string]any{
			"inn":  "7701234567",
			"name": "Acme",
		},
	})
	rec.ExternalRef = "CONTRACT-1"

	out, err := m.MapOutbound(rec)
	require.NoError(t, err)

	keyedValue, _ := out.Get(KeyedSection)
	keyed, ok := keyedValue.AsObject()
	require.True(t, ok)

	date, _ := keyed.Get("Дата")
	assert.Equal(t, enterprisedata.KindDate, date.Kind())
	assert.Equal(t, "2024-02-01", date.Text())

	amount, _ := out.Get("СуммаДоговора")
	assert.Equal(t, enterprisedata.KindDecimal, amount.Kind())
	assert.Equal(t, "125000", amount.Text())

	counterparty, _ := keyed.Get("Контрагент")
	nested, ok := counterparty.AsObject()
	require.True(t, ok)
	inn, _ := nested.Get("inn")
	assert.Equal(t, "7701234567", inn.Text())

	generated, err := enterprisedata.NewCodec().Generate([]*enterprisedata.Object{out}, enterprisedata.Header{MessageNo: 1})
	require.NoError(t, err)
	assert.Contains(t, string(generated), "<Номер>Д-15</Номер>")
}

func TestMapOutboundRejectsForeignOrEmptyRecords(t *testing.T) {
	m := NewTableMapper(ProductSchema)

	_, err := m.MapOutbound(domain.NewRecord(RecordUnit, map[string]any{"code": "796"}))
	assert.Error(t, err)

	_, err = m.MapOutbound(domain.NewRecord(RecordProduct, nil))
	assert.Error(t, err)

	_, err = m.MapOutbound(domain.NewRecord(RecordProduct, map[string]any{"unrelated": "x"}))
	assert.Error(t, err)

	docs := NewTableMapper(DocumentSchema)
	_, err = docs.MapOutbound(domain.NewRecord(RecordDocument, map[string]any{"number": "1"}))
	assert.Error(t, err, "document without a concrete type cannot be written")
}

func TestBankAccountKeepsNestedBank(t *testing.T) {
	bank := &enterprisedata.Object{}
	bank.Set("БИК", enterprisedata.StringValue("044525225"))
	bank.Set("Наименование", enterprisedata.StringValue("ПАО Сбербанк"))
	keyed := &enterprisedata.Object{}
	keyed.Set("НомерСчета", enterprisedata.StringValue("40702810900000000001"))
	keyed.Set("Банк", enterprisedata.ObjectValue(bank))
	obj := enterprisedata.NewObject("Справочник.БанковскиеСчета", "")
	obj.Set(KeyedSection, enterprisedata.ObjectValue(keyed))

	m := NewTableMapper(BankAccountSchema)
	require.True(t, m.ValidateStructure(obj).IsValid)

	rec, err := m.MapInbound(obj)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"БИК": "044525225", "Наименование": "ПАО Сбербанк"}, rec.Properties["bank"])
	assert.Equal(t, &domain.IdentityKey{Kind: domain.KeyCode, Value: "40702810900000000001"}, rec.NaturalKey)
}
