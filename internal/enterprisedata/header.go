package enterprisedata

import "time"

const (
	// MessageNamespace qualifies the Message header elements.
	MessageNamespace = "http://www.1c.ru/SSL/Exchange/Message"
	// FormatBase prefixes the EnterpriseData format URI; the version follows it.
	FormatBase = "http://v8.1c.ru/edi/edi_stnd/EnterpriseData/"

	xsNamespace  = "http://www.w3.org/2001/XMLSchema"
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
)

// ObjectTypeInfo advertises which object types a node sends and receives.
type ObjectTypeInfo struct {
	Name      string
	Sending   string
	Receiving string
}

// Header is the message header including the confirmation block.
type Header struct {
	Format               string
	CreationDate         time.Time
	ExchangePlan         string
	From                 string
	To                   string
	MessageNo            int64
	ReceivedNo           int64
	AvailableVersions    []string
	AvailableObjectTypes []ObjectTypeInfo
}

// HasReceivedNo reports whether the header acknowledges a peer message.
func (h Header) HasReceivedNo() bool {
	return h.ReceivedNo > 0
}

// Message is a parsed inbound message. It is consumed once and never persisted as is.
type Message struct {
	Header  Header
	Objects []*Object
}
