// Package messaging defines the message envelope tickloom replicas
// exchange and the abstract Bus contract that delivers them. Concrete
// transports (internal/transport's Gin-backed HTTPBus, or the
// deterministic SimulatedBus in this package used for tests) are
// collaborators; this package fixes only the envelope and the
// contract, never wire framing.
package messaging

import "tickloom/internal/id"

// PeerType tags which side of a conversation a Message's source is:
// an external client, or another server-side replica.
type PeerType int

const (
	PeerClient PeerType = iota
	PeerServer
)

func (p PeerType) String() string {
	if p == PeerClient {
		return "CLIENT"
	}
	return "SERVER"
}

// MessageType is a named tag. Equality is by name, so custom protocol
// message types (internal/replica mints CLIENT_SET, INTERNAL_WRITE,
// and so on) can be declared as plain constants without a central
// registry.
type MessageType string

// Predefined handshake types. Protocol-specific types live alongside
// the protocol that defines them (internal/replica).
const (
	Hello   MessageType = "HELLO"
	Welcome MessageType = "WELCOME"
	Reject  MessageType = "REJECT"
)

// Message is the immutable envelope exchanged between processes. All
// fields are required; CorrelationID is opaque to the bus but must be
// unique per outstanding request from its originator.
type Message struct {
	Source        id.ProcessID
	Destination   id.ProcessID
	PeerType      PeerType
	MessageType   MessageType
	Payload       []byte
	CorrelationID string
}
