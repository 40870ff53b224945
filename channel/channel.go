// Package channel defines the secure-transport capability the protocol
// driver drives: handshake establishment, byte-level send/receive, session
// lifecycle commands, and the persisted app-state fingerprint readout.
// Grounded on the teacher's split between transport.go (raw send/receive
// over a connection) and security.go/LayerSecurity's handshake and
// session-resume responsibilities, generalized into a single
// borrowed-capability interface in place of the teacher's layer chain —
// the driver owns CoAP framing itself (see package coap) and only ever
// hands the channel opaque, already-encoded frames.
package channel

import "github.com/waldow90/device-os/appstate"

// EstablishResult reports how a Channel's handshake concluded.
type EstablishResult int

const (
	EstablishOK EstablishResult = iota
	SessionResumed
)

func (r EstablishResult) String() string {
	if r == SessionResumed {
		return "SessionResumed"
	}
	return "EstablishOK"
}

// Command is a session-lifecycle control instruction sent to the channel.
type Command int

const (
	SaveSession Command = iota
	LoadSession
	DiscardSession
	MoveSession
)

func (c Command) String() string {
	switch c {
	case SaveSession:
		return "SaveSession"
	case LoadSession:
		return "LoadSession"
	case DiscardSession:
		return "DiscardSession"
	case MoveSession:
		return "MoveSession"
	default:
		return "Unknown"
	}
}

// Channel is the borrowed secure-transport capability the driver requires.
// The driver never owns a Channel; the host constructs one (a real secure
// socket, or a loopback test double such as memchannel) and hands it in.
// Every method operates on already-CoAP-encoded frames; the channel is
// responsible only for confidentiality, session resume, and delivery, not
// for understanding message semantics.
type Channel interface {
	// Establish performs the secure handshake, optionally resuming a prior
	// session, returning which occurred or an unrecoverable error.
	Establish() (EstablishResult, error)

	// Send transmits an encoded frame. If confirmReceived is set, Send
	// blocks until the transport has confirmed delivery at its own level
	// or its retransmit policy gives up. The slice backing frame may be
	// reused by the caller once Send returns.
	Send(frame []byte, confirmReceived bool) error

	// Receive performs a non-blocking read of the next inbound frame. A
	// nil slice with a nil error means no data was available.
	Receive() ([]byte, error)

	// Command issues a session-lifecycle control instruction. arg is
	// meaningful only for MoveSession (the new endpoint address).
	Command(cmd Command, arg any) error

	// CachedAppStateDescriptor returns the fingerprints persisted from the
	// last session, as last written via a SaveSession command.
	CachedAppStateDescriptor() appstate.Descriptor

	// NotifyEstablished is called once the driver considers the handshake
	// complete, after any post-handshake describe/HELLO exchange.
	NotifyEstablished()
}
