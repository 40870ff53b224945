package coap

import (
	"crypto/rand"

	log "github.com/ndmsystems/logger"
)

// InvalidMessageID marks a describe/subscription slot as having no message
// outstanding, matching the teacher's INVALID_MESSAGE_HANDLE sentinel.
const InvalidMessageID uint16 = 0

// Message is a decoded CoAP frame plus the device-specific fields the
// driver needs: a fixed-width token (or its reported length, if the peer
// sent something else), the semantic message type, and a confirm-received
// flag instructing the channel whether send() should block for
// transport-level acknowledgement.
type Message struct {
	ID       uint16
	Type     Type
	Code     Code
	MsgType  MessageType
	Token    [FixedTokenLength]byte
	TokenLen int
	Payload  []byte

	// ConfirmReceived instructs Channel.Send to block until the transport
	// has confirmed delivery before returning.
	ConfirmReceived bool
}

// HasToken reports whether the message carries a token of the width this
// system understands. Tokens of any other length are treated as absent by
// the driver, per spec.
func (m *Message) HasToken() bool {
	return m.TokenLen == FixedTokenLength
}

// NewToken draws a fresh 4-byte token from a cryptographically secure
// source. The driver seeds its own monotonic per-session token counter
// from this at construction time; ad hoc tokens (e.g. for a one-off
// describe POST) are drawn directly.
func NewToken() [FixedTokenLength]byte {
	var t [FixedTokenLength]byte
	if _, err := rand.Read(t[:]); err != nil {
		// crypto/rand failing indicates a broken host RNG; fall back to
		// an all-zero token rather than panicking a device library.
		log.Error("token generation failed, falling back to zero token:", err)
	}
	return t
}

// NewEmptyACK builds an empty acknowledgement for the given request id/token.
func NewEmptyACK(id uint16, token [FixedTokenLength]byte) *Message {
	return &Message{ID: id, Type: ACK, Code: CodeEmpty, Token: token, TokenLen: FixedTokenLength}
}

// NewCodedACK builds an ACK that carries a response code, used by the coded
// per-chunk acknowledgement and by SIGNAL_START/STOP replies; both reuse the
// request's message id.
func NewCodedACK(id uint16, token [FixedTokenLength]byte, code Code, payload []byte) *Message {
	return &Message{ID: id, Type: ACK, Code: code, Token: token, TokenLen: FixedTokenLength, Payload: payload}
}

// NewHello builds the HELLO handshake message, sent CON with confirm-received set.
func NewHello(id uint16, token [FixedTokenLength]byte, flags byte) *Message {
	return &Message{
		ID:              id,
		Type:            CON,
		Code:            CodePOST,
		MsgType:         Hello,
		Token:           token,
		TokenLen:        FixedTokenLength,
		Payload:         []byte{flags},
		ConfirmReceived: true,
	}
}

// NewDescribeRequest builds an outgoing describe POST, used by post_description.
func NewDescribeRequest(id uint16, token [FixedTokenLength]byte, payload []byte) *Message {
	return &Message{ID: id, Type: CON, Code: CodePOST, MsgType: Describe, Token: token, TokenLen: FixedTokenLength, Payload: payload}
}

// NewDescribeResponse builds the response to an inbound DESCRIBE request.
func NewDescribeResponse(id uint16, token [FixedTokenLength]byte, payload []byte) *Message {
	return &Message{ID: id, Type: CON, Code: CodeContent, MsgType: Describe, Token: token, TokenLen: FixedTokenLength, Payload: payload}
}
