package transport

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
)

const (
	messagePrefix = "Message"
	xmlExtension  = ".xml"
	// ArchiveDir holds processed files partitioned by processing minute.
	ArchiveDir = "archive"
)

// Naming derives message file names from a connector's node identities.
type Naming struct {
	incoming *regexp.Regexp
	outgoing string
}

// NewNaming builds the naming rules for connector. With GUID names enabled the
// incoming pattern is Message_<prefix>_<peerGUID>_<ourGUID>.xml, where prefix is
// whatever the sender uses; otherwise Message_<peer>_<our>.xml. Both accept an
// optional _N sequence suffix and match case-insensitively.
func NewNaming(connector domain.Connector) (*Naming, error) {
	if connector.UseGUIDNames {
		if connector.OurGUID == "" || connector.PeerGUID == "" {
			return nil, fmt.Errorf("connector %s: GUID file names require both node GUIDs", connector.Name)
		}
		pattern := fmt.Sprintf(`(?i)^%s_[^_]+_%s_%s(_\d+)?\.xml$`,
			messagePrefix, regexp.QuoteMeta(connector.PeerGUID), regexp.QuoteMeta(connector.OurGUID))
		return &Naming{
			incoming: regexp.MustCompile(pattern),
			outgoing: fmt.Sprintf("%s_%s_%s_%s", messagePrefix, connector.OurPrefix, connector.OurGUID, connector.PeerGUID),
		}, nil
	}

	if connector.OurPrefix == "" || connector.PeerPrefix == "" {
		return nil, fmt.Errorf("connector %s: file names require both node prefixes", connector.Name)
	}
	pattern := fmt.Sprintf(`(?i)^%s_%s_%s(_\d+)?\.xml$`,
		messagePrefix, regexp.QuoteMeta(connector.PeerPrefix), regexp.QuoteMeta(connector.OurPrefix))
	return &Naming{
		incoming: regexp.MustCompile(pattern),
		outgoing: fmt.Sprintf("%s_%s_%s", messagePrefix, connector.OurPrefix, connector.PeerPrefix),
	}, nil
}

// IsIncoming reports whether name is a message addressed to us by the peer.
func (n *Naming) IsIncoming(name string) bool {
	return n.incoming.MatchString(name)
}

// Outgoing returns the name of the seq-th message of one outgoing cycle,
// counting from 1. The first message uses the canonical name.
func (n *Naming) Outgoing(seq int) string {
	if seq <= 1 {
		return n.outgoing + xmlExtension
	}
	return fmt.Sprintf("%s_%d%s", n.outgoing, seq, xmlExtension)
}

// ArchivePath places name under archive/YYYY/MM/DD/HH/mm/ for the given moment.
func ArchivePath(name string, at time.Time) string {
	return path.Join(ArchiveDir, at.Format("2006/01/02/15/04"), path.Base(name))
}

func hasXMLExtension(name string) bool {
	return strings.EqualFold(path.Ext(name), xmlExtension)
}
