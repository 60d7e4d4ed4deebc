package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
)

// Config bounds what the sanitizer lets through.
type Config struct {
	MaxDepth        int
	MaxStringLength int
	MaxKeyLength    int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{MaxDepth: 10, MaxStringLength: 10000, MaxKeyLength: 128}
}

// Sanitizer cleans wire objects crossing the trust boundary. It holds no state
// besides its limits and is safe for concurrent use.
type Sanitizer struct {
	cfg Config
}

// New creates a sanitizer; zero limits fall back to the defaults.
func New(cfg Config) *Sanitizer {
	defaults := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = defaults.MaxStringLength
	}
	if cfg.MaxKeyLength <= 0 {
		cfg.MaxKeyLength = defaults.MaxKeyLength
	}
	return &Sanitizer{cfg: cfg}
}

// SanitizeIncoming returns a cleaned copy of obj or a RejectError when a value
// matches the dangerous-content blocklist or the structure is too deep.
func (s *Sanitizer) SanitizeIncoming(obj *enterprisedata.Object) (*enterprisedata.Object, error) {
	return s.sanitize(obj, true)
}

// SanitizeOutgoing returns a cleaned copy of obj. Only excessive depth is refused.
func (s *Sanitizer) SanitizeOutgoing(obj *enterprisedata.Object) (*enterprisedata.Object, error) {
	return s.sanitize(obj, false)
}

func (s *Sanitizer) sanitize(obj *enterprisedata.Object, incoming bool) (*enterprisedata.Object, error) {
	if obj == nil {
		return nil, nil
	}
	w := walker{cfg: s.cfg, incoming: incoming}
	ref, err := w.text(obj.Ref, "Ref")
	if err != nil {
		return nil, err
	}
	out, err := w.object(obj, 1, "")
	if err != nil {
		return nil, err
	}
	out.Type = obj.Type
	out.Ref = ref
	return out, nil
}

type walker struct {
	cfg      Config
	incoming bool
}

func (w walker) object(obj *enterprisedata.Object, depth int, path string) (*enterprisedata.Object, error) {
	if depth > w.cfg.MaxDepth {
		return nil, &RejectError{Reason: ReasonDepthExceeded, Path: path}
	}
	out := &enterprisedata.Object{}

	props, err := w.properties(obj.Properties, depth, path)
	if err != nil {
		return nil, err
	}
	out.Properties = props

	for _, section := range obj.Sections {
		name := norm.NFC.String(section.Name)
		if !validKey(name, w.cfg.MaxKeyLength) {
			continue
		}
		sectionPath := joinPath(path, name)
		if depth+1 > w.cfg.MaxDepth {
			return nil, &RejectError{Reason: ReasonDepthExceeded, Path: sectionPath}
		}
		cleaned := enterprisedata.TabularSection{Name: name, RowName: section.RowName}
		for _, row := range section.Rows {
			cleanedRow, err := w.properties(row, depth+1, sectionPath)
			if err != nil {
				return nil, err
			}
			cleaned.Rows = append(cleaned.Rows, cleanedRow)
		}
		out.SetSection(cleaned)
	}
	return out, nil
}

func (w walker) properties(props enterprisedata.Properties, depth int, path string) (enterprisedata.Properties, error) {
	out := make(enterprisedata.Properties, 0, len(props))
	for _, prop := range props {
		key := norm.NFC.String(prop.Name)
		if !validKey(key, w.cfg.MaxKeyLength) {
			continue
		}
		value, err := w.value(prop.Value, depth, joinPath(path, key))
		if err != nil {
			return nil, err
		}
		out.Set(key, value)
	}
	return out, nil
}

func (w walker) value(v enterprisedata.Value, depth int, path string) (enterprisedata.Value, error) {
	switch v.Kind() {
	case enterprisedata.KindString:
		raw, _ := v.AsString()
		cleaned, err := w.text(raw, path)
		if err != nil {
			return enterprisedata.Null(), err
		}
		return enterprisedata.StringValue(cleaned), nil
	case enterprisedata.KindObject:
		nested, _ := v.AsObject()
		cleaned, err := w.object(nested, depth+1, path)
		if err != nil {
			return enterprisedata.Null(), err
		}
		return enterprisedata.ObjectValue(cleaned), nil
	default:
		return v, nil
	}
}

func (w walker) text(raw, path string) (string, error) {
	s := stripControl(norm.NFC.String(raw))
	if w.incoming {
		if name, found := matchBlocklist(s); found {
			return "", &RejectError{Reason: ReasonDangerousContent, Path: path, Detail: name}
		}
	}
	return truncate(escapeText(s), w.cfg.MaxStringLength), nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func stripControl(s string) string {
	if strings.IndexFunc(s, isStrippedControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStrippedControl(r) {
			return -1
		}
		return r
	}, s)
}

func isStrippedControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}

// truncate cuts escaped text to maxRunes without splitting a trailing entity.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut := string([]rune(s)[:maxRunes])
	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && !strings.Contains(cut[amp:], ";") {
		cut = cut[:amp]
	}
	return cut
}

// escapeText escapes angle brackets and any ampersand that does not already
// start a character or entity reference, so repeated calls are stable.
func escapeText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			if entityPattern.MatchString(s[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
