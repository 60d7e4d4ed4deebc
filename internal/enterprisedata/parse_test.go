package enterprisedata

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const sampleMessage = `<?xml version="1.0" encoding="UTF-8"?>
<Message xmlns:msg="http://www.1c.ru/SSL/Exchange/Message" xmlns:xs="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
	<msg:Header>
		<msg:Format>http://v8.1c.ru/edi/edi_stnd/EnterpriseData/1.8</msg:Format>
		<msg:CreationDate>2024-05-06T07:08:09</msg:CreationDate>
		<msg:Confirmation>
			<msg:ExchangePlan>СинхронизацияДанныхЧерезУниверсальныйФормат</msg:ExchangePlan>
			<msg:To>US</msg:To>
			<msg:From>PEER</msg:From>
			<msg:MessageNo>7</msg:MessageNo>
			<msg:ReceivedNo>3</msg:ReceivedNo>
		</msg:Confirmation>
		<msg:AvailableVersion>1.6</msg:AvailableVersion>
		<msg:AvailableVersion>1.8</msg:AvailableVersion>
		<msg:AvailableObjectTypes>
			<msg:ObjectType>
				<msg:Name>Справочник.Контрагенты</msg:Name>
				<msg:Sending>*</msg:Sending>
				<msg:Receiving>*</msg:Receiving>
			</msg:ObjectType>
		</msg:AvailableObjectTypes>
	</msg:Header>
	<Body xmlns="http://v8.1c.ru/edi/edi_stnd/EnterpriseData/1.8">
		<Справочник.Контрагенты Ref="GUID-1">
			<КлючевыеСвойства>
				<Наименование>Acme</Наименование>
				<ИНН>7701234567</ИНН>
			</КлючевыеСвойства>
			<Активен xsi:type="xs:boolean">true</Активен>
			<Лимит xsi:type="xs:decimal">1500.75</Лимит>
			<Количество xsi:type="xs:int">12</Количество>
			<ДатаСоздания xsi:type="xs:dateTime">2024-01-02T03:04:05</ДатаСоздания>
			<ДатаРегистрации xsi:type="xs:date">not-a-date</ДатаРегистрации>
			<Комментарий>plain text</Комментарий>
		</Справочник.Контрагенты>
		<Документ.РеализацияТоваровУслуг Ref="DOC-1">
			<Номер>A-1</Номер>
			<Товары>
				<Строка><Номенклатура>Widget</Номенклатура><Количество xsi:type="xs:decimal">2</Количество></Строка>
				<Строка><Номенклатура>Gadget</Номенклатура><Количество xsi:type="xs:decimal">3.5</Количество></Строка>
			</Товары>
			<Услуги>
				<Строка><Содержание>Delivery</Содержание></Строка>
			</Услуги>
		</Документ.РеализацияТоваровУслуг>
	</Body>
</Message>`

func TestParseReadsHeaderAndTypedProperties(t *testing.T) {
	codec := NewCodec()

	msg, err := codec.Parse([]byte(sampleMessage))
	require.NoError(t, err)

	header := msg.Header
	assert.Equal(t, "http://v8.1c.ru/edi/edi_stnd/EnterpriseData/1.8", header.Format)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), header.CreationDate)
	assert.Equal(t, "PEER", header.From)
	assert.Equal(t, "US", header.To)
	assert.Equal(t, int64(7), header.MessageNo)
	assert.Equal(t, int64(3), header.ReceivedNo)
	assert.Equal(t, []string{"1.6", "1.8"}, header.AvailableVersions)
	require.Len(t, header.AvailableObjectTypes, 1)
	assert.Equal(t, "Справочник.Контрагенты", header.AvailableObjectTypes[0].Name)

	require.Len(t, msg.Objects, 2)
	counterparty := msg.Objects[0]
	assert.Equal(t, "Справочник.Контрагенты", counterparty.Type)
	assert.Equal(t, "GUID-1", counterparty.Ref)

	keys, ok := counterparty.Get("КлючевыеСвойства")
	require.True(t, ok)
	keyObject, ok := keys.AsObject()
	require.True(t, ok, "keyed properties should parse as a nested object")
	name, _ := keyObject.Get("Наименование")
	assert.Equal(t, "Acme", name.Text())

	active, _ := counterparty.Get("Активен")
	b, ok := active.AsBool()
	require.True(t, ok)
	assert.True(t, b)

	limit, _ := counterparty.Get("Лимит")
	assert.Equal(t, KindDecimal, limit.Kind())
	assert.Equal(t, "1500.75", limit.Text())

	count, _ := counterparty.Get("Количество")
	n, ok := count.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(12), n)

	created, _ := counterparty.Get("ДатаСоздания")
	ts, ok := created.AsTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	registered, ok := counterparty.Get("ДатаРегистрации")
	require.True(t, ok)
	assert.True(t, registered.IsNull(), "unparseable dates decode to an absent value")

	comment, _ := counterparty.Get("Комментарий")
	assert.Equal(t, KindString, comment.Kind())
}

func TestParseDetectsTabularSectionsByRepeatingRows(t *testing.T) {
	msg, err := NewCodec().Parse([]byte(sampleMessage))
	require.NoError(t, err)

	document := msg.Objects[1]
	goods, ok := document.Section("Товары")
	require.True(t, ok)
	assert.Equal(t, "Строка", goods.RowName)
	require.Len(t, goods.Rows, 2)
	item, _ := goods.Rows[1].Get("Номенклатура")
	assert.Equal(t, "Gadget", item.Text())

	// A single-row section is indistinguishable from a nested object without a hint.
	_, isSection := document.Section("Услуги")
	assert.False(t, isSection)
	services, ok := document.Get("Услуги")
	require.True(t, ok)
	assert.Equal(t, KindObject, services.Kind())
}

func TestParseHonoursTabularSectionHints(t *testing.T) {
	msg, err := NewCodec(WithTabularSections("Услуги")).Parse([]byte(sampleMessage))
	require.NoError(t, err)

	services, ok := msg.Objects[1].Section("Услуги")
	require.True(t, ok)
	require.Len(t, services.Rows, 1)
	content, _ := services.Rows[0].Get("Содержание")
	assert.Equal(t, "Delivery", content.Text())
}

func TestParseRejectsDocumentTypeDeclarations(t *testing.T) {
	payload := `<?xml version="1.0"?>
<!DOCTYPE Message [ <!ENTITY xxe SYSTEM "file:///etc/passwd"> ]>
<Message xmlns:msg="http://www.1c.ru/SSL/Exchange/Message"><msg:Header/><Body>&xxe;</Body></Message>`

	_, err := NewCodec().Parse([]byte(payload))
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ReasonNotWellFormed, parseErr.Reason)
}

func TestParseReportsMissingHeader(t *testing.T) {
	payload := `<Message xmlns:msg="http://www.1c.ru/SSL/Exchange/Message"><Body/></Message>`

	_, err := NewCodec().Parse([]byte(payload))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ReasonHeaderMissing, parseErr.Reason)
}

func TestParseRejectsHeaderInForeignNamespace(t *testing.T) {
	payload := `<Message xmlns:x="urn:other"><x:Header/><Body/></Message>`

	_, err := NewCodec().Parse([]byte(payload))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ReasonHeaderMissing, parseErr.Reason)
}

func TestParseEnforcesSizeLimit(t *testing.T) {
	codec := NewCodec(WithMaxSize(64))

	_, err := codec.Parse([]byte(sampleMessage))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ReasonSizeExceeded, parseErr.Reason)
}

func TestParseMalformedDocument(t *testing.T) {
	_, err := NewCodec().Parse([]byte(`<Message><unclosed></Message>`))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ReasonNotWellFormed, parseErr.Reason)
}

func TestParseAcceptsUTF16WithBOM(t *testing.T) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := encoder.Bytes([]byte(sampleMessage))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(encoded, []byte{0xFF, 0xFE}))

	msg, err := NewCodec().Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.Header.MessageNo)
	assert.Len(t, msg.Objects, 2)
}

func TestParseStripsUTF8BOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleMessage)...)

	msg, err := NewCodec().Parse(payload)
	require.NoError(t, err)
	assert.Len(t, msg.Objects, 2)
}

func TestParseEmptyBody(t *testing.T) {
	payload := `<Message xmlns:msg="http://www.1c.ru/SSL/Exchange/Message">
<msg:Header><msg:Confirmation><msg:MessageNo>2</msg:MessageNo></msg:Confirmation></msg:Header>
</Message>`

	msg, err := NewCodec().Parse([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, msg.Objects)
	assert.Equal(t, int64(2), msg.Header.MessageNo)
	assert.False(t, msg.Header.HasReceivedNo())
}
