package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopySourceKeepsSeparators(t *testing.T) {
	tests := []struct {
		name   string
		bucket string
		key    string
		want   string
	}{
		{"flat", "drop", "Message_PEER_US.xml", "drop/Message_PEER_US.xml"},
		{"prefixed", "drop", "erp/in/Message_PEER_US.xml", "drop/erp/in/Message_PEER_US.xml"},
		{"spaces", "drop", "erp files/Message 1.xml", "drop/erp%20files/Message%201.xml"},
		{"cyrillic", "drop", "обмен/Message_PEER_US.xml", "drop/%D0%BE%D0%B1%D0%BC%D0%B5%D0%BD/Message_PEER_US.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, copySource(tt.bucket, tt.key))
		})
	}
}
