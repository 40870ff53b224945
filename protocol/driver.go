package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/acktracker"
	"github.com/waldow90/device-os/appstate"
	"github.com/waldow90/device-os/channel"
	"github.com/waldow90/device-os/chunkedtransfer"
	"github.com/waldow90/device-os/coap"
	"github.com/waldow90/device-os/describe"
	"github.com/waldow90/device-os/pinger"
	"github.com/waldow90/device-os/protocolerr"
	"github.com/waldow90/device-os/subscriptions"
	"github.com/waldow90/device-os/timesync"
)

// Driver owns the codec-adjacent subsystems (ack tracker, subscriptions,
// chunked transfer, describe builder, time sync, pinger) and drives the
// handshake and event loop over a borrowed channel.Channel. Grounded on
// protocol.cpp's Protocol class. The driver exclusively owns its subcomponents, the
// channel and app-state store are borrowed capabilities, and
// callback/descriptor records are copied in by value.
type Driver struct {
	ch    channel.Channel
	store appstate.Store

	tracker   *acktracker.Tracker
	subs      *subscriptions.Table
	transfer  *chunkedtransfer.Transfer
	describer *describe.Builder
	timesync  *timesync.Sync
	pinger    *pinger.Pinger

	callbacks Callbacks
	cfg       config

	nextMessageID uint32
	nextToken     uint32

	protocolFlags Flag

	appDescribeMsgID    uint16
	systemDescribeMsgID uint16
	subscriptionsMsgID  uint16

	lastAckUpdateMillis uint32
	initialized         bool
}

// New builds a Driver. flash backs the chunked-transfer state machine and
// store persists AppStateDescriptor fingerprints; both are typically
// implemented by the same host object that implements channel.Channel
// (see channel/memchannel.Endpoint), but are accepted separately since
// the spec treats the app-state store as a distinct collaborator from the
// channel.
func New(ch channel.Channel, store appstate.Store, flash chunkedtransfer.FlashWriter, callbacks Callbacks, opts ...Option) *Driver {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Driver{
		ch:            ch,
		store:         store,
		tracker:       acktracker.New(cfg.ackTrackerCapacity),
		subs:          subscriptions.New(),
		transfer:      chunkedtransfer.New(flash, cfg.transferTimeout),
		describer:     describe.New(cfg.manifest),
		timesync:      timesync.New(func() uint32 { return callbacks.millis() }, cfg.timeSyncTimeoutMillis),
		pinger:        nil, // set below, needs a reference to d.sendPing
		callbacks:     callbacks,
		cfg:           cfg,
		protocolFlags: cfg.flags,
	}
	d.pinger = pinger.New(cfg.pingInterval, d.sendPingNonBlocking)

	d.nextMessageID = randomUint32()
	d.nextToken = randomUint32()

	log.Info("protocol driver constructed")
	return d
}

// Subscriptions exposes the subscription table so the host can register
// event handlers before Begin is called.
func (d *Driver) Subscriptions() *subscriptions.Table {
	return d.subs
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Warning("failed to seed counter from RNG, starting at zero:", err)
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (d *Driver) allocateMessageID() uint16 {
	id := uint16(d.nextMessageID)
	d.nextMessageID++
	if id == coap.InvalidMessageID {
		id = uint16(d.nextMessageID)
		d.nextMessageID++
	}
	return id
}

func (d *Driver) allocateToken() [coap.FixedTokenLength]byte {
	var t [coap.FixedTokenLength]byte
	binary.BigEndian.PutUint32(t[:], d.nextToken)
	d.nextToken++
	return t
}

func (d *Driver) send(msg *coap.Message) error {
	frame := coap.Encode(msg)
	d.pinger.NotifyActivity()
	return d.ch.Send(frame, msg.ConfirmReceived)
}

func (d *Driver) receiveOne() (*coap.Message, error) {
	frame, err := d.ch.Receive()
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	msg, err := coap.Decode(frame)
	if err != nil {
		return nil, err
	}
	d.pinger.NotifyActivity()
	return msg, nil
}

// sendPingNonBlocking issues a confirmable keep-alive PING and registers its
// completion with the ack tracker; "NonBlocking" refers to Channel.Send's
// confirmReceived argument (this call never blocks on transport-level
// delivery), not to the CoAP message type, which is CON so the cloud's ACK
// completes the tracked handler.
func (d *Driver) sendPingNonBlocking() error {
	id := d.allocateMessageID()
	msg := &coap.Message{
		ID:      id,
		Type:    coap.CON,
		Code:    coap.CodeEmpty,
		MsgType: coap.Ping,
	}
	if err := d.send(msg); err != nil {
		return err
	}
	d.tracker.Add(id, d.cfg.ackTimeout, func(err error) {
		if err != nil {
			log.Warningf("keep-alive ping not acknowledged: %v", err)
			return
		}
		log.Debug("keep-alive ping acknowledged")
	})
	return nil
}

// computeAppStateDescriptor recomputes the four fingerprints from current
// application state: describe checksums and the subscriptions checksum,
// alongside the driver's persisted feature flags.
func (d *Driver) computeAppStateDescriptor() (appstate.Descriptor, error) {
	systemCRC, err := d.describer.Checksum(describe.System, d.cfg.maxMessageLen)
	if err != nil {
		return appstate.Descriptor{}, err
	}
	appCRC, err := d.describer.Checksum(describe.Application, d.cfg.maxMessageLen)
	if err != nil {
		return appstate.Descriptor{}, err
	}
	return appstate.Descriptor{
		SystemDescribeCRC: systemCRC,
		AppDescribeCRC:    appCRC,
		SubscriptionsCRC:  d.subs.Checksum(),
		ProtocolFlags:     uint32(d.protocolFlags),
	}, nil
}

func (d *Driver) persistProtocolFlags() {
	d.ch.Command(channel.SaveSession, nil)
	d.store.PersistField(appstate.FieldProtocolFlags, uint32(d.protocolFlags))
	d.ch.Command(channel.LoadSession, nil)
}

func (d *Driver) haltFatal(reason string) error {
	log.Errorf("fatal protocol condition: %s", reason)
	if d.callbacks.Panic != nil {
		d.callbacks.Panic(reason)
	}
	return protocolerr.DescribeOverflow
}

func msTo(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}
