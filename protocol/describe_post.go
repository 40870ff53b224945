package protocol

import (
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/appstate"
	"github.com/waldow90/device-os/channel"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/describe"
)

// PostDescription sends a describe POST for the requested sections, per
// protocol.cpp's post_description. Unless force is set, a section whose
// fingerprint already matches the channel's cached AppStateDescriptor is
// dropped from the request, so an unchanged manifest is never re-uploaded.
func (d *Driver) PostDescription(flags describe.Flags, force bool) error {
	if !force {
		current, err := d.computeAppStateDescriptor()
		if err != nil {
			return err
		}
		cached := d.ch.CachedAppStateDescriptor()

		if flags&describe.System != 0 && current.EqualUnder(cached, appstate.FieldSystemDescribeCRC) {
			flags &^= describe.System
			log.Info("not sending system DESCRIBE, already up to date")
		}
		if flags&describe.Application != 0 && current.EqualUnder(cached, appstate.FieldAppDescribeCRC) {
			flags &^= describe.Application
			log.Info("not sending application DESCRIBE, already up to date")
		}
	}

	if flags == 0 {
		return nil
	}

	payload, err := d.describer.Build(flags, d.cfg.maxMessageLen)
	if err != nil {
		return d.haltFatal(err.Error())
	}

	id := d.allocateMessageID()
	msg := coap.NewDescribeRequest(id, d.allocateToken(), payload)
	msg.ConfirmReceived = true
	if err := d.send(msg); err != nil {
		return err
	}
	d.tracker.Add(id, d.cfg.ackTimeout, func(err error) {
		if err != nil {
			log.Warningf("DESCRIBE not acknowledged: %v", err)
			return
		}
		log.Debug("DESCRIBE acknowledged")
	})

	if flags&describe.System != 0 {
		d.systemDescribeMsgID = id
	}
	if flags&describe.Application != 0 {
		d.appDescribeMsgID = id
	}
	return nil
}

// DescribeSize reports the byte size a describe payload for flags would
// take without producing it, backed by the same measure-only Builder used
// internally, per protocol.cpp's get_describe_data.
func (d *Driver) DescribeSize(flags describe.Flags) int {
	return d.describer.Measure(flags)
}

// PostSubscriptions recomputes the subscription table's fingerprint and, if
// it differs from the channel's cached copy (or force is set), uploads the
// current subscription set and persists the new fingerprint once
// acknowledged, per protocol.cpp's update_subscription_crc.
func (d *Driver) PostSubscriptions(force bool) error {
	crc := d.subs.Checksum()

	if !force {
		cached := d.ch.CachedAppStateDescriptor()
		if cached.SubscriptionsCRC == crc {
			log.Info("not sending SUBSCRIPTIONS, already up to date")
			return nil
		}
	}

	payload := d.subs.Encode()
	id := d.allocateMessageID()
	msg := &coap.Message{
		ID:              id,
		Type:            coap.CON,
		Code:            coap.CodePOST,
		MsgType:         coap.Event,
		Token:           d.allocateToken(),
		TokenLen:        coap.FixedTokenLength,
		Payload:         payload,
		ConfirmReceived: true,
	}
	if err := d.send(msg); err != nil {
		return err
	}
	d.tracker.Add(id, d.cfg.ackTimeout, func(err error) {
		if err != nil {
			log.Warningf("SUBSCRIPTIONS not acknowledged: %v", err)
			return
		}
		log.Debug("SUBSCRIPTIONS acknowledged")
	})
	d.subscriptionsMsgID = id
	return nil
}

// DiscardSession requests the channel drop its persisted session, per
// handle_key_change's inner-option path, exposed here for hosts that need
// to force a fresh handshake outside of an inbound KEY_CHANGE.
func (d *Driver) DiscardSession() error {
	return d.ch.Command(channel.DiscardSession, nil)
}
