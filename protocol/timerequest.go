package protocol

import "github.com/waldow90/device-os/coap"

// RequestTime issues a TIME request, per protocol.cpp's Protocol::get_time.
// The response arrives asynchronously through the normal dispatch path
// (handleTime) and is applied via Callbacks.SetClock.
func (d *Driver) RequestTime() error {
	msg := &coap.Message{
		ID:       d.allocateMessageID(),
		Type:     coap.NON,
		Code:     coap.CodeGET,
		MsgType:  coap.Time,
		Token:    d.allocateToken(),
		TokenLen: coap.FixedTokenLength,
	}
	if err := d.send(msg); err != nil {
		return err
	}
	d.timesync.Request()
	return nil
}
