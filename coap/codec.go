package coap

import (
	"encoding/binary"
	"errors"

	log "github.com/ndmsystems/logger"
)

var (
	ErrPacketTooShort     = errors.New("coap: packet length less than 4 bytes")
	ErrInvalidVersion     = errors.New("coap: invalid version, expected 1")
	ErrOptionDeltaValue15 = errors.New("coap: option delta uses reserved value 15")
	ErrOptionLengthValue15 = errors.New("coap: option length uses reserved value 15")
	ErrTruncatedOption    = errors.New("coap: truncated option")
)

// Encode serializes a Message into its wire representation: a 4-byte
// header, the token, a single private option carrying the device message
// type (delta-encoded per RFC 7252, omitted for plain replies that carry
// MsgType == None), the payload marker, and the payload.
//
// This system deliberately does not implement general CoAP option parsing;
// the only option it ever emits or reads back is deviceMsgTypeOption, per
// spec §1's Non-goals.
func Encode(m *Message) []byte {
	buf := make([]byte, 4, 4+m.TokenLen+3+1+len(m.Payload))

	buf[offHeader] = byte(coapVersion<<6) | byte(m.Type)<<4 | byte(m.TokenLen)
	buf[offCode] = byte(m.Code)
	binary.BigEndian.PutUint16(buf[offIDStart:offIDEnd], m.ID)

	if m.TokenLen > 0 {
		buf = append(buf, m.Token[:m.TokenLen]...)
	}

	if m.MsgType != None {
		// Option delta from 0, single-byte value: header nibble is
		// (delta<<4)|length. deviceMsgTypeOption is 4099, past the 269
		// threshold where RFC 7252 requires the two-byte extended delta
		// (nibble 14, big-endian delta-269) rather than the one-byte form
		// (nibble 13, delta-13) that only reaches option numbers up to 268.
		const delta = deviceMsgTypeOption
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(delta-269))
		buf = append(buf, byte(14<<4)|1, ext[0], ext[1], byte(m.MsgType))
	}

	if len(m.Payload) > 0 {
		buf = append(buf, PayloadMarker)
		buf = append(buf, m.Payload...)
	}

	return buf
}

// Decode parses a wire frame into a Message. A RST is reinterpreted as an
// internal-server-error response code, since RST carries no code of its
// own but is semantically a failure — matching protocol.cpp's
// handle_received_message.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrPacketTooShort
	}
	if data[offHeader]>>6 != coapVersion {
		return nil, ErrInvalidVersion
	}

	m := &Message{}
	m.Type = Type(data[offHeader] >> 4 & 0x03)
	tokenLen := int(data[offHeader] & 0x0F)
	m.Code = Code(data[offCode])
	m.ID = binary.BigEndian.Uint16(data[offIDStart:offIDEnd])

	m.TokenLen = tokenLen
	if tokenLen > 0 {
		end := offTokenPos + tokenLen
		if end > len(data) {
			return nil, ErrTruncatedOption
		}
		if tokenLen == FixedTokenLength {
			copy(m.Token[:], data[offTokenPos:end])
		} else {
			log.Warning("unsupported token length, treating as absent:", tokenLen)
		}
	}

	rest := data[offTokenPos+tokenLen:]
	msgType, payload, err := decodeOptionsAndPayload(rest)
	if err != nil {
		return nil, err
	}
	m.MsgType = msgType
	m.Payload = payload

	if m.Type == RST {
		m.Code = CodeInternalServerError
	}

	return m, nil
}

func decodeOptionsAndPayload(data []byte) (MessageType, []byte, error) {
	msgType := None
	lastOption := 0

	for len(data) > 0 {
		if data[0] == PayloadMarker {
			return msgType, data[1:], nil
		}

		delta := int(data[0] >> 4)
		length := int(data[0] & 0x0F)
		data = data[1:]

		switch delta {
		case 13:
			if len(data) < 1 {
				return None, nil, ErrTruncatedOption
			}
			delta = int(data[0]) + 13
			data = data[1:]
		case 14:
			if len(data) < 2 {
				return None, nil, ErrTruncatedOption
			}
			delta = int(binary.BigEndian.Uint16(data[:2])) + 269
			data = data[2:]
		case 15:
			return None, nil, ErrOptionDeltaValue15
		}

		switch length {
		case 13:
			if len(data) < 1 {
				return None, nil, ErrTruncatedOption
			}
			length = int(data[0]) + 13
			data = data[1:]
		case 14:
			if len(data) < 2 {
				return None, nil, ErrTruncatedOption
			}
			length = int(binary.BigEndian.Uint16(data[:2])) + 269
			data = data[2:]
		case 15:
			return None, nil, ErrOptionLengthValue15
		}

		if len(data) < length {
			return None, nil, ErrTruncatedOption
		}

		optionCode := lastOption + delta
		value := data[:length]
		data = data[length:]
		lastOption = optionCode

		if optionCode == deviceMsgTypeOption && length == 1 {
			msgType = MessageType(value[0])
		}
	}

	return msgType, nil, nil
}
