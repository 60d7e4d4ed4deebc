package enterprisedata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

func TestNormalizeEncoding(t *testing.T) {
	const text = "<Message>Привет</Message>"

	utf16be, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	utf32le, err := utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	utf32be, err := utf32.UTF32(utf32.BigEndian, utf32.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "plain", input: []byte(text)},
		{name: "utf8 bom", input: append([]byte{0xEF, 0xBB, 0xBF}, []byte(text)...)},
		{name: "utf16 be", input: utf16be},
		{name: "utf32 le", input: utf32le},
		{name: "utf32 be", input: utf32be},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := NormalizeEncoding(tc.input)
			require.NoError(t, err)
			assert.Equal(t, text, string(out))
		})
	}
}
