package domain

import (
	"strings"

	"github.com/google/uuid"
)

// TransportKind selects the driver used to reach a connector's drop location.
type TransportKind string

const (
	TransportFTP   TransportKind = "ftp"
	TransportLocal TransportKind = "local"
	TransportS3    TransportKind = "s3"
)

// TransportSettings describes how to reach the remote drop location.
type TransportSettings struct {
	Kind      TransportKind `json:"kind"`
	Address   string        `json:"address,omitempty"`
	User      string        `json:"user,omitempty"`
	Password  string        `json:"-"`
	Dir       string        `json:"dir,omitempty"`
	Bucket    string        `json:"bucket,omitempty"`
	Region    string        `json:"region,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	TLS       bool          `json:"tls,omitempty"`
	RateLimit float64       `json:"rate_limit,omitempty"`
}

// Connector describes one peer relationship: node identities, transport and format.
type Connector struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	OurPrefix    string            `json:"our_prefix"`
	PeerPrefix   string            `json:"peer_prefix"`
	OurGUID      string            `json:"our_guid,omitempty"`
	PeerGUID     string            `json:"peer_guid,omitempty"`
	UseGUIDNames bool              `json:"use_guid_names"`
	ExchangePlan string            `json:"exchange_plan"`
	Transport    TransportSettings `json:"transport"`
}

// OurNode returns the identity this side puts into the From field of outgoing headers.
func (c Connector) OurNode() string {
	if strings.TrimSpace(c.OurGUID) != "" {
		return c.OurGUID
	}
	return c.OurPrefix
}

// PeerNode returns the identity expected in the From field of incoming headers.
func (c Connector) PeerNode() string {
	if strings.TrimSpace(c.PeerGUID) != "" {
		return c.PeerGUID
	}
	return c.PeerPrefix
}
