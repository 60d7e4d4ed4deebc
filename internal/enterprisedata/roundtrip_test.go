package enterprisedata

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var textAlphabet = []rune("abcXYZ0129 Ромашка&<>\"'-_.,;:\t\n")

func randomText(r *rand.Rand) string {
	n := r.Intn(12)
	out := make([]rune, n)
	for i := range out {
		out[i] = textAlphabet[r.Intn(len(textAlphabet))]
	}
	return string(out)
}

func randomScalar(r *rand.Rand) Value {
	switch r.Intn(6) {
	case 0:
		return StringValue(randomText(r))
	case 1:
		return BoolValue(r.Intn(2) == 0)
	case 2:
		return IntValue(r.Int63() - r.Int63())
	case 3:
		return DecimalValue(apd.New(r.Int63n(2_000_000_000)-1_000_000_000, -int32(r.Intn(5))))
	case 4:
		return DateTimeValue(time.Unix(r.Int63n(4_000_000_000), 0).UTC())
	default:
		return DateValue(time.Unix(r.Int63n(4_000_000_000), 0).UTC())
	}
}

// randomObject builds trees the repeating-row heuristic reads back unambiguously:
// names are unique within an object, nested objects have distinct child names and
// every tabular section has at least two rows.
func randomObject(r *rand.Rand) *Object {
	obj := NewObject("Справочник.Контрагенты", fmt.Sprintf("%08x-ref", r.Uint32()))
	for i := 0; i < 1+r.Intn(5); i++ {
		obj.Set(fmt.Sprintf("Поле%d", i), randomScalar(r))
	}
	if r.Intn(2) == 0 {
		nested := &Object{}
		for i := 0; i < 1+r.Intn(3); i++ {
			nested.Set(fmt.Sprintf("Вложенное%d", i), randomScalar(r))
		}
		obj.Set("Банк", ObjectValue(nested))
	}
	for s := 0; s < r.Intn(3); s++ {
		section := TabularSection{Name: fmt.Sprintf("Таблица%d", s), RowName: DefaultRowName}
		columns := 1 + r.Intn(3)
		for row := 0; row < 2+r.Intn(3); row++ {
			cells := Properties{}
			for c := 0; c < columns; c++ {
				cells.Set(fmt.Sprintf("Колонка%d", c), randomScalar(r))
			}
			section.Rows = append(section.Rows, cells)
		}
		obj.SetSection(section)
	}
	return obj
}

func TestGenerateParseRoundTripProperty(t *testing.T) {
	codec := NewCodec()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parse(generate(obj)) reproduces values and rows", prop.ForAll(
		func(seed int64) bool {
			obj := randomObject(rand.New(rand.NewSource(seed)))
			out, err := codec.Generate([]*Object{obj}, Header{MessageNo: 1, From: "A", To: "B"})
			if err != nil {
				t.Logf("generate failed: %v", err)
				return false
			}
			msg, err := codec.Parse(out)
			if err != nil || len(msg.Objects) != 1 {
				t.Logf("parse failed: %v", err)
				return false
			}
			return msg.Objects[0].Equal(obj)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestGenerateWritesConfirmationBlock(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := NewCodec(WithClock(func() time.Time { return now }))

	obj := NewObject("Справочник.Организации", "GUID-9")
	obj.Set("Наименование", StringValue("Acme & Sons"))
	obj.Set("Активна", BoolValue(true))

	out, err := codec.Generate([]*Object{obj}, Header{
		ExchangePlan:      "План",
		From:              "US",
		To:                "PEER",
		MessageNo:         4,
		AvailableVersions: []string{"1.8"},
	})
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, text, "<msg:MessageNo>4</msg:MessageNo>")
	assert.NotContains(t, text, "ReceivedNo")
	assert.Contains(t, text, `xsi:type="xs:boolean"`)
	assert.Contains(t, text, "Acme &amp; Sons")

	msg, err := codec.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, now, msg.Header.CreationDate)
	assert.Equal(t, FormatURI(DefaultVersion), msg.Header.Format)
	assert.Equal(t, "US", msg.Header.From)
	assert.Equal(t, "PEER", msg.Header.To)
	assert.Equal(t, "План", msg.Header.ExchangePlan)

	withAck, err := codec.Generate(nil, Header{From: "US", To: "PEER", MessageNo: 5, ReceivedNo: 9})
	require.NoError(t, err)
	acked, err := codec.Parse(withAck)
	require.NoError(t, err)
	assert.Equal(t, int64(9), acked.Header.ReceivedNo)
	assert.Empty(t, acked.Objects)
}

func TestGenerateRejectsOversizedOutput(t *testing.T) {
	codec := NewCodec(WithMaxSize(256))
	obj := NewObject("Справочник.Номенклатура", "")
	for i := 0; i < 20; i++ {
		obj.Set(fmt.Sprintf("Поле%d", i), StringValue("значение"))
	}

	_, err := codec.Generate([]*Object{obj}, Header{MessageNo: 1})

	var genErr *GenerateError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonOutputTooLarge, genErr.Reason)
}

func TestGenerateFailsSelfCheckOnInvalidElementName(t *testing.T) {
	obj := NewObject("Bad Name", "")
	obj.Set("x", StringValue("y"))

	_, err := NewCodec().Generate([]*Object{obj}, Header{MessageNo: 1})

	var genErr *GenerateError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ReasonSelfCheckFailed, genErr.Reason)
}

func TestGenerateRequiresMessageNumber(t *testing.T) {
	for _, messageNo := range []int64{0, -3} {
		t.Run(fmt.Sprint(messageNo), func(t *testing.T) {
			_, err := NewCodec().Generate(nil, Header{MessageNo: messageNo})
			var genErr *GenerateError
			require.True(t, errors.As(err, &genErr), "got %v", err)
			assert.Equal(t, ReasonInvalidHeader, genErr.Reason)
		})
	}
}
