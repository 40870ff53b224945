package coap

// Type is the CoAP message type: confirmable, non-confirmable, acknowledgement or reset.
type Type uint8

const (
	CON Type = 0
	NON Type = 1
	ACK Type = 2
	RST Type = 3
)

func (t Type) String() string {
	switch t {
	case CON:
		return "CON"
	case NON:
		return "NON"
	case ACK:
		return "ACK"
	case RST:
		return "RST"
	default:
		return "UNKNOWN"
	}
}

// IsReply reports whether a message of this type is a reply to something
// this side sent, rather than a fresh request or notification.
func (t Type) IsReply() bool {
	return t == ACK || t == RST
}

// Code is a CoAP method or response code, class(3 bits)|detail(5 bits).
type Code uint8

const (
	CodeEmpty  Code = 0
	CodeGET    Code = 1
	CodePOST   Code = 2
	CodePUT    Code = 3
	CodeDELETE Code = 4

	CodeCreated Code = 65 // 2.01
	CodeDeleted Code = 66 // 2.02
	CodeValid   Code = 67 // 2.03
	CodeChanged Code = 68 // 2.04
	CodeContent Code = 69 // 2.05

	CodeBadRequest          Code = 128 // 4.00
	CodeUnauthorized        Code = 129 // 4.01
	CodeNotFound            Code = 132 // 4.04
	CodeInternalServerError Code = 160 // 5.00
)

// Class returns the CoAP response class: 2 (success), 4 (client error), 5 (server error).
func (c Code) Class() int {
	return int(c) >> 5
}

func (c Code) IsSuccess() bool {
	return c.Class() == 2
}

// PayloadMarker separates CoAP options from the payload in the wire format.
const PayloadMarker = 0xFF

// deviceMsgTypeOption is a private option code carrying the device-specific
// semantic message type (HELLO, DESCRIBE, FUNCTION_CALL, ...) that this
// system layers on top of plain CoAP. It sits in the same "experimental
// use" range as the teacher's own private options (OptionHandshakeType,
// OptionSessionNotFound, ...).
const deviceMsgTypeOption = 4099

// Header byte offsets, as in the teacher's message/constants.go.
const (
	offHeader   = 0
	offCode     = 1
	offIDStart  = 2
	offIDEnd    = 4
	offTokenPos = 4
)

const coapVersion = 1

// FixedTokenLength is the token width this system always produces.
const FixedTokenLength = 4
