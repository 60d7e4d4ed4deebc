package enterprisedata

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF32LE = []byte{0xFF, 0xFE, 0x00, 0x00}
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
)

// NormalizeEncoding removes a byte order mark and transcodes UTF-16 and UTF-32
// input (either endianness) to UTF-8. Input without a BOM is returned unchanged.
func NormalizeEncoding(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF32LE):
		return decodeWith(data, utf32.UTF32(utf32.LittleEndian, utf32.UseBOM).NewDecoder().Bytes)
	case bytes.HasPrefix(data, bomUTF32BE):
		return decodeWith(data, utf32.UTF32(utf32.BigEndian, utf32.UseBOM).NewDecoder().Bytes)
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], nil
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes)
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(data, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes)
	default:
		return data, nil
	}
}

func decodeWith(data []byte, decode func([]byte) ([]byte, error)) ([]byte, error) {
	out, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode byte order marked input: %w", err)
	}
	return bytes.TrimPrefix(out, bomUTF8), nil
}

// charsetReader lets declarations such as encoding="windows-1251" through. Unicode
// labels pass unchanged because NormalizeEncoding has already produced UTF-8.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if strings.HasPrefix(normalized, "utf-8") || strings.HasPrefix(normalized, "utf8") ||
		strings.HasPrefix(normalized, "utf-16") || strings.HasPrefix(normalized, "utf-32") {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
