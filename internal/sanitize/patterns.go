package sanitize

import (
	"regexp"
	"unicode/utf8"
)

type blockedPattern struct {
	name string
	re   *regexp.Regexp
}

// blocklist holds script and executable-content markers refused on the incoming path.
var blocklist = []blockedPattern{
	{"script tag", regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{"javascript uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript uri", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"html data uri", regexp.MustCompile(`(?i)data\s*:\s*text/html`)},
	{"event handler", regexp.MustCompile(`(?i)\bon(?:load|error|click|dblclick|mouse[a-z]*|key[a-z]*|focus|blur|change|submit|abort|unload)\s*=`)},
	{"iframe tag", regexp.MustCompile(`(?i)<\s*iframe\b`)},
	{"object tag", regexp.MustCompile(`(?i)<\s*object\b`)},
	{"embed tag", regexp.MustCompile(`(?i)<\s*embed\b`)},
	{"server-side code", regexp.MustCompile(`(?i)<\?php|<%`)},
}

func matchBlocklist(s string) (string, bool) {
	for _, pattern := range blocklist {
		if pattern.re.MatchString(s) {
			return pattern.name, true
		}
	}
	return "", false
}

var (
	keyPattern    = regexp.MustCompile(`^[\p{L}\p{N}_.\-]+$`)
	entityPattern = regexp.MustCompile(`^&(?:[A-Za-z][A-Za-z0-9]{0,31}|#[0-9]{1,7}|#[xX][0-9A-Fa-f]{1,6});`)
)

func validKey(key string, maxLen int) bool {
	return key != "" && utf8.RuneCountInString(key) <= maxLen && keyPattern.MatchString(key)
}
