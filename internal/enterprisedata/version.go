package enterprisedata

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// FormatURI builds the format identifier for a version such as "1.8".
func FormatURI(version string) string {
	return FormatBase + strings.TrimSpace(version)
}

// FormatVersion extracts the version from a format URI; a bare version is returned as is.
func FormatVersion(format string) string {
	format = strings.TrimSpace(format)
	if idx := strings.LastIndex(format, "/"); idx >= 0 {
		return format[idx+1:]
	}
	return format
}

// SupportsFormat reports whether the format's version is one of supported.
func SupportsFormat(format string, supported []string) bool {
	version, err := semver.NewVersion(FormatVersion(format))
	if err != nil {
		return false
	}
	for _, candidate := range supported {
		ours, err := semver.NewVersion(candidate)
		if err == nil && ours.Equal(version) {
			return true
		}
	}
	return false
}

// NegotiateVersion picks the highest version present in both lists. Versions
// compare numerically, so 1.11 is newer than 1.8.
func NegotiateVersion(ours, theirs []string) (string, bool) {
	var (
		best     *semver.Version
		bestText string
	)
	for _, candidate := range ours {
		version, err := semver.NewVersion(candidate)
		if err != nil {
			continue
		}
		matched := false
		for _, other := range theirs {
			peer, err := semver.NewVersion(other)
			if err == nil && peer.Equal(version) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if best == nil || version.GreaterThan(best) {
			best = version
			bestText = candidate
		}
	}
	return bestText, best != nil
}
