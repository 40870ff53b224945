package coap

// MessageType is the device-specific semantic type of a message, layered
// over plain CoAP type/code the way the cloud protocol distinguishes HELLO,
// DESCRIBE, FUNCTION_CALL and so on. A reply (ACK/RST) that carries no
// device message type decodes to None.
type MessageType uint8

const (
	None MessageType = iota
	Hello
	Describe
	FunctionCall
	VariableRequest
	SaveBegin
	UpdateBegin
	Chunk
	UpdateDone
	Event
	KeyChange
	SignalStart
	SignalStop
	Time
	Ping
	ErrorMsg
)

func (t MessageType) String() string {
	switch t {
	case Hello:
		return "HELLO"
	case Describe:
		return "DESCRIBE"
	case FunctionCall:
		return "FUNCTION_CALL"
	case VariableRequest:
		return "VARIABLE_REQUEST"
	case SaveBegin:
		return "SAVE_BEGIN"
	case UpdateBegin:
		return "UPDATE_BEGIN"
	case Chunk:
		return "CHUNK"
	case UpdateDone:
		return "UPDATE_DONE"
	case Event:
		return "EVENT"
	case KeyChange:
		return "KEY_CHANGE"
	case SignalStart:
		return "SIGNAL_START"
	case SignalStop:
		return "SIGNAL_STOP"
	case Time:
		return "TIME"
	case Ping:
		return "PING"
	case ErrorMsg:
		return "ERROR"
	default:
		return "NONE"
	}
}
