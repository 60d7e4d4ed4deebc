package transport

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"

	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
)

// dangerousMarkers reject documents that could trigger entity expansion,
// external resource loading or embedded scripts. They are checked on the raw
// text, before any parser sees it.
var dangerousMarkers = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"DOCTYPE", regexp.MustCompile(`(?i)<!DOCTYPE`)},
	{"ENTITY", regexp.MustCompile(`(?i)<!ENTITY`)},
	{"SYSTEM reference", regexp.MustCompile(`\bSYSTEM\s+["']`)},
	{"PUBLIC reference", regexp.MustCompile(`\bPUBLIC\s+["']`)},
	{"script tag", regexp.MustCompile(`(?i)<script[\s>/]`)},
}

var xmlStart = regexp.MustCompile(`^\s*<(\?xml|[\p{L}_])`)

// ValidateContent checks that data looks like a safe XML document and returns
// it with any byte order mark removed and transcoded to UTF-8.
func ValidateContent(data []byte) ([]byte, error) {
	normalized, err := enterprisedata.NormalizeEncoding(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(normalized)) == 0 {
		return nil, errors.New("file is empty")
	}
	if !xmlStart.Match(normalized) {
		return nil, errors.New("content does not look like XML")
	}
	for _, marker := range dangerousMarkers {
		if marker.pattern.Match(normalized) {
			return nil, fmt.Errorf("content contains a forbidden %s", marker.name)
		}
	}
	if err := enterprisedata.WellFormed(normalized); err != nil {
		return nil, fmt.Errorf("content is not well-formed: %w", err)
	}
	return normalized, nil
}
