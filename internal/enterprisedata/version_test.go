package enterprisedata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateVersionPrefersHighestCommon(t *testing.T) {
	version, ok := NegotiateVersion([]string{"1.6", "1.8", "1.11"}, []string{"1.8", "1.11", "1.12"})
	assert.True(t, ok)
	assert.Equal(t, "1.11", version)

	_, ok = NegotiateVersion([]string{"1.6"}, []string{"1.8"})
	assert.False(t, ok)
}

func TestFormatHelpers(t *testing.T) {
	uri := FormatURI("1.8")
	assert.Equal(t, "http://v8.1c.ru/edi/edi_stnd/EnterpriseData/1.8", uri)
	assert.Equal(t, "1.8", FormatVersion(uri))
	assert.True(t, SupportsFormat(uri, []string{"1.6", "1.8"}))
	assert.False(t, SupportsFormat(uri, []string{"1.11"}))
	assert.False(t, SupportsFormat("garbage", []string{"1.8"}))
}
