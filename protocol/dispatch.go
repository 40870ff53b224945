package protocol

import (
	"encoding/binary"
	"time"

	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/appstate"
	"github.com/waldow90/device-os/channel"
	"github.com/waldow90/device-os/chunkedtransfer"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/describe"
	"github.com/waldow90/device-os/protocolerr"
)

// Step advances the ack tracker by elapsed wall time, then either
// dispatches one received message or runs idle work (pinger cadence,
// chunked-transfer inactivity timeout). It returns the type of the
// message handled, or coap.None if the tick was idle. On any error the
// in-flight chunked transfer is cancelled before the error propagates,
// per protocol.cpp's event_loop.
func (d *Driver) Step() (coap.MessageType, error) {
	now := d.callbacks.millis()
	dt := time.Duration(now-d.lastAckUpdateMillis) * time.Millisecond
	d.tracker.Update(dt)
	d.lastAckUpdateMillis = now

	msg, err := d.receiveOne()
	if err != nil {
		d.transfer.Cancel()
		return coap.None, err
	}

	if msg == nil {
		if err := d.pinger.Tick(dt); err != nil {
			d.transfer.Cancel()
			return coap.None, err
		}
		d.transfer.Tick(dt)
		return coap.None, nil
	}

	msgType, err := d.handleReceivedMessage(msg)
	if err != nil {
		d.transfer.Cancel()
		return msgType, err
	}
	return msgType, nil
}

// WaitFor polls Step until either a message of the given type arrives or
// timeout elapses, per protocol.cpp's event_loop(type, timeout) overload.
func (d *Driver) WaitFor(want coap.MessageType, timeout time.Duration) (coap.MessageType, error) {
	deadline := d.callbacks.millis() + msTo(timeout)
	for {
		got, err := d.Step()
		if err != nil {
			return got, err
		}
		if got == want {
			return got, nil
		}
		if d.callbacks.millis() >= deadline {
			return coap.None, protocolerr.MessageTimeout
		}
	}
}

func (d *Driver) handleReceivedMessage(msg *coap.Message) (coap.MessageType, error) {
	if msg.Type.IsReply() {
		d.notifyMessageComplete(msg.ID, msg.Code)

		if msg.ID == d.appDescribeMsgID {
			d.appDescribeMsgID = coap.InvalidMessageID
			if msg.Type == coap.ACK {
				d.persistDescribeCRC(describe.Application, appstate.FieldAppDescribeCRC)
			}
		}
		if msg.ID == d.systemDescribeMsgID {
			d.systemDescribeMsgID = coap.InvalidMessageID
			if msg.Type == coap.ACK {
				d.persistDescribeCRC(describe.System, appstate.FieldSystemDescribeCRC)
			}
		}
		if msg.ID == d.subscriptionsMsgID {
			d.subscriptionsMsgID = coap.InvalidMessageID
			if msg.Type == coap.ACK {
				d.persistSubscriptionsCRC()
			}
		}
	}

	switch msg.MsgType {
	case coap.Describe:
		return msg.MsgType, d.handleDescribeRequest(msg)

	case coap.FunctionCall:
		if !msg.HasToken() {
			return msg.MsgType, protocolerr.MissingRequestToken
		}
		d.invokeFunctionCall(msg)
		return msg.MsgType, nil

	case coap.VariableRequest:
		if !msg.HasToken() {
			return msg.MsgType, protocolerr.MissingRequestToken
		}
		d.invokeVariableRequest(msg)
		return msg.MsgType, nil

	case coap.SaveBegin, coap.UpdateBegin:
		return msg.MsgType, d.handleTransferBegin(msg)

	case coap.Chunk:
		return msg.MsgType, d.handleChunk(msg)

	case coap.UpdateDone:
		return msg.MsgType, d.handleTransferDone(msg)

	case coap.Event:
		return msg.MsgType, d.handleEvent(msg)

	case coap.KeyChange:
		return msg.MsgType, d.handleKeyChange(msg)

	case coap.SignalStart:
		return msg.MsgType, d.handleSignal(msg, true)

	case coap.SignalStop:
		return msg.MsgType, d.handleSignal(msg, false)

	case coap.Hello:
		return msg.MsgType, d.handleHello(msg)

	case coap.Time:
		return msg.MsgType, d.handleTime(msg)

	case coap.Ping:
		return msg.MsgType, d.handlePing(msg)

	case coap.ErrorMsg:
		fallthrough
	default:
		log.Debug("dropping message of type", msg.MsgType)
		return msg.MsgType, nil
	}
}

func (d *Driver) notifyMessageComplete(id uint16, code coap.Code) {
	var tracked bool
	if code.IsSuccess() {
		tracked = d.tracker.SetResult(id)
	} else {
		class := protocolerr.ClassifyCoAPCode(code.Class())
		tracked = d.tracker.SetError(id, &protocolerr.CoAPError{Class: class, Code: int(code)})
	}
	if !tracked {
		log.Debugf("%v: id=%d", protocolerr.UnknownID, id)
	}
}

func (d *Driver) persistDescribeCRC(flags describe.Flags, field appstate.Field) {
	crc, err := d.describer.Checksum(flags, d.cfg.maxMessageLen)
	if err != nil {
		log.Error("failed to recompute describe checksum after ACK:", err)
		return
	}
	d.ch.Command(channel.SaveSession, nil)
	d.store.PersistField(field, crc)
	d.ch.Command(channel.LoadSession, nil)
}

func (d *Driver) persistSubscriptionsCRC() {
	crc := d.subs.Checksum()
	d.ch.Command(channel.SaveSession, nil)
	d.store.PersistField(appstate.FieldSubscriptionsCRC, crc)
	d.ch.Command(channel.LoadSession, nil)
}

func (d *Driver) handleDescribeRequest(msg *coap.Message) error {
	flags := describe.Application | describe.System
	if len(msg.Payload) > 0 {
		const describeMax = byte(describe.Application | describe.System | describe.Metrics)
		if msg.Payload[0] <= describeMax {
			flags = describe.Flags(msg.Payload[0])
		} else {
			log.Warningf("invalid DESCRIBE flags %02x, using default", msg.Payload[0])
		}
	}

	if err := d.send(coap.NewEmptyACK(msg.ID, msg.Token)); err != nil {
		return err
	}

	payload, err := d.describer.Build(flags, d.cfg.maxMessageLen)
	if err != nil {
		return d.haltFatal(err.Error())
	}
	return d.send(coap.NewDescribeResponse(d.allocateMessageID(), msg.Token, payload))
}

func (d *Driver) invokeFunctionCall(msg *coap.Message) {
	if d.callbacks.CallFunction == nil {
		d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeNotFound, nil))
		return
	}
	token := msg.Token
	d.callbacks.CallFunction(msg.Payload, func(code coap.Code, payload []byte) error {
		return d.send(coap.NewCodedACK(d.allocateMessageID(), token, code, payload))
	})
}

func (d *Driver) invokeVariableRequest(msg *coap.Message) {
	if d.callbacks.RequestVariable == nil {
		d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeNotFound, nil))
		return
	}
	token := msg.Token
	d.callbacks.RequestVariable(msg.Payload, func(code coap.Code, payload []byte) error {
		return d.send(coap.NewCodedACK(d.allocateMessageID(), token, code, payload))
	})
}

// beginPayloadLen is the fixed header this driver expects at the start of
// a SAVE_BEGIN/UPDATE_BEGIN payload: 4-byte file size, 2-byte chunk size,
// 4-byte CRC, 1-byte flags. Chosen for this rewrite since the retrieved
// original does not expose FileTransfer::Descriptor's wire layout; see
// DESIGN.md.
const beginPayloadLen = 11

func decodeBeginInfo(payload []byte) chunkedtransfer.BeginInfo {
	return chunkedtransfer.BeginInfo{
		FileSize:  int(binary.BigEndian.Uint32(payload[0:4])),
		ChunkSize: int(binary.BigEndian.Uint16(payload[4:6])),
		CRC:       binary.BigEndian.Uint32(payload[6:10]),
		Flags:     payload[10],
	}
}

func (d *Driver) handleTransferBegin(msg *coap.Message) error {
	if len(msg.Payload) < beginPayloadLen {
		return d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeBadRequest, nil))
	}
	info := decodeBeginInfo(msg.Payload)
	if err := d.transfer.Begin(info); err != nil {
		return d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeInternalServerError, nil))
	}
	return d.send(coap.NewEmptyACK(msg.ID, msg.Token))
}

// chunkPayloadHeaderLen is the 4-byte big-endian chunk index this driver
// expects at the start of a CHUNK payload, ahead of the chunk bytes
// themselves. Same rationale as beginPayloadLen.
const chunkPayloadHeaderLen = 4

func (d *Driver) handleChunk(msg *coap.Message) error {
	if len(msg.Payload) < chunkPayloadHeaderLen {
		return d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeBadRequest, nil))
	}
	index := int(binary.BigEndian.Uint32(msg.Payload[:chunkPayloadHeaderLen]))
	status, err := d.transfer.Chunk(index, msg.Payload[chunkPayloadHeaderLen:])
	if err != nil {
		return err
	}
	code := coap.CodeChanged
	if status != 0 {
		code = coap.CodeBadRequest
	}
	return d.send(coap.NewCodedACK(msg.ID, msg.Token, code, nil))
}

func (d *Driver) handleTransferDone(msg *coap.Message) error {
	err := d.transfer.Done()
	code := coap.CodeChanged
	if err != nil {
		code = coap.CodeInternalServerError
	}
	if sendErr := d.send(coap.NewCodedACK(msg.ID, msg.Token, code, nil)); sendErr != nil {
		return sendErr
	}
	return err
}

// eventPayloadHeaderLen is the 1-byte event-name length this driver
// expects at the start of an EVENT payload.
const eventPayloadHeaderLen = 1

func (d *Driver) handleEvent(msg *coap.Message) error {
	if len(msg.Payload) < eventPayloadHeaderLen {
		return nil
	}
	nameLen := int(msg.Payload[0])
	if len(msg.Payload) < eventPayloadHeaderLen+nameLen {
		return nil
	}
	name := string(msg.Payload[eventPayloadHeaderLen : eventPayloadHeaderLen+nameLen])
	payload := msg.Payload[eventPayloadHeaderLen+nameLen:]
	d.subs.Dispatch(name, payload)
	return nil
}

func (d *Driver) handleKeyChange(msg *coap.Message) error {
	if msg.Type == coap.CON {
		if err := d.send(coap.NewEmptyACK(msg.ID, msg.Token)); err != nil {
			return err
		}
	}
	// The inner parameter is read from the first payload byte; a value of
	// 1 requests a session key discard. CoAP options other than the
	// device message type are not parsed, so a parameter carried in an
	// option is not seen here.
	if len(msg.Payload) > 0 && msg.Payload[0] == 1 {
		return d.ch.Command(channel.DiscardSession, nil)
	}
	return nil
}

func (d *Driver) handleSignal(msg *coap.Message, on bool) error {
	if err := d.send(coap.NewCodedACK(msg.ID, msg.Token, coap.CodeValid, nil)); err != nil {
		return err
	}
	if d.callbacks.Signal != nil {
		d.callbacks.Signal(on)
	}
	return nil
}

func (d *Driver) handleHello(msg *coap.Message) error {
	if msg.Type == coap.CON {
		if err := d.send(coap.NewEmptyACK(msg.ID, msg.Token)); err != nil {
			return err
		}
	}
	if d.callbacks.NotifyOTAStatusSent != nil {
		d.callbacks.NotifyOTAStatusSent()
	}
	return nil
}

func (d *Driver) handleTime(msg *coap.Message) error {
	if d.callbacks.SetClock == nil {
		return nil
	}
	return d.timesync.HandleResponse(msg.Payload, d.callbacks.SetClock)
}

func (d *Driver) handlePing(msg *coap.Message) error {
	return d.send(coap.NewEmptyACK(msg.ID, msg.Token))
}
