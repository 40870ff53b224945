package protocol

import (
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/appstate"
	"github.com/waldow90/device-os/channel"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/describe"
)

// Begin establishes the channel, optionally resumes a prior session, and
// completes the HELLO exchange, per protocol.cpp's begin(), which returns
// the SESSION_RESUMED code to its caller. It resets every subcomponent's
// session-scoped state first so a redialed Begin after a dropped connection
// starts from a clean slate, and returns exactly once per call whether the
// session was resumed or established fresh.
func (d *Driver) Begin() (channel.EstablishResult, error) {
	log.Info("establishing secure connection")

	d.transfer.Cancel()
	d.pinger.Reset()
	d.timesync.Reset()
	d.tracker.Clear()
	d.lastAckUpdateMillis = d.callbacks.millis()

	d.appDescribeMsgID = coap.InvalidMessageID
	d.systemDescribeMsgID = coap.InvalidMessageID
	d.subscriptionsMsgID = coap.InvalidMessageID

	result, err := d.ch.Establish()
	if err != nil {
		log.Errorf("handshake failed: %v", err)
		return result, err
	}

	if result == channel.SessionResumed {
		d.ch.Command(channel.MoveSession, nil)

		current, err := d.computeAppStateDescriptor()
		if err != nil {
			return result, err
		}
		cached := d.ch.CachedAppStateDescriptor()

		mask := appstate.FieldAll
		if d.protocolFlags&FlagDeviceInitiatedDescribe != 0 {
			mask = appstate.FieldSystemDescribeCRC | appstate.FieldProtocolFlags
		}

		if cached.EqualUnder(current, mask) {
			log.Info("skipping HELLO, cached app state matches")
			d.initialized = true
			return result, d.sendPingNonBlocking()
		}
	}

	log.Info("sending HELLO")
	if err := d.sendHello(); err != nil {
		log.Errorf("could not send HELLO: %v", err)
		return result, err
	}

	if d.protocolFlags&FlagRequireHelloResponse != 0 {
		log.Info("waiting for HELLO response")
		if _, err := d.WaitFor(coap.Hello, d.cfg.helloTimeout); err != nil {
			return result, err
		}
	}

	log.Info("handshake completed")
	d.ch.NotifyEstablished()
	d.persistProtocolFlags()
	d.initialized = true

	if d.protocolFlags&FlagDeviceInitiatedDescribe != 0 {
		return result, d.PostDescription(describe.System, true)
	}
	return result, nil
}

func (d *Driver) sendHello() error {
	flags := byte(HelloFlagDiagnosticsSupport | HelloFlagImmediateUpdatesSupport)
	if d.callbacks.WasOTAUpgradeSuccessful {
		flags |= byte(HelloFlagOTAUpgradeSuccessful)
	}
	if d.protocolFlags&FlagDeviceInitiatedDescribe != 0 {
		flags |= byte(HelloFlagDeviceInitiatedDescribe)
	}

	id := d.allocateMessageID()
	msg := coap.NewHello(id, d.allocateToken(), flags)
	if err := d.send(msg); err != nil {
		return err
	}
	d.tracker.Add(id, d.cfg.ackTimeout, func(err error) {
		if err != nil {
			log.Warningf("HELLO not acknowledged: %v", err)
			return
		}
		log.Debug("HELLO acknowledged")
	})
	return nil
}
