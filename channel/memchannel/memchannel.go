// Package memchannel is an in-process loopback implementation of
// channel.Channel, used to exercise the protocol driver in tests and the
// demo command without a real radio or socket. It adapts the teacher's
// session/SecuredSession.go handshake and crypto/AEAD.go framing (see
// package crypto) onto a pair of Go channels standing in for a wire, and
// uses patrickmn/go-cache to persist session material and the cached
// AppStateDescriptor the way an on-device flash-backed session store
// would, complete with the wall-clock expiry go-cache is actually built
// for — a resumed session is only honored while the cache entry is live.
package memchannel

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/appstate"
	"github.com/waldow90/device-os/channel"
	dcrypto "github.com/waldow90/device-os/crypto"
)

// ErrLinkClosed is returned by Send/Establish once the peer end has been
// closed.
var ErrLinkClosed = errors.New("memchannel: link closed")

const sessionCacheKey = "session"
const descriptorCacheKey = "descriptor"

// wire is the shared medium between two Endpoints, standing in for a
// socket. Frames placed on outbound are visible to the peer's inbound.
type wire struct {
	toCloud  chan []byte
	toDevice chan []byte
	closed   chan struct{}
}

func newWire() *wire {
	return &wire{
		toCloud:  make(chan []byte, 32),
		toDevice: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

// Endpoint is one side of a loopback channel pair, implementing
// channel.Channel.
type Endpoint struct {
	name       string
	send       chan<- []byte
	recv       <-chan []byte
	wire       *wire
	isDevice   bool
	store      *cache.Cache
	sessionTTL time.Duration

	sessionID   string
	aead        *dcrypto.AEAD
	sendCounter uint16
	recvCounter uint16
}

// NewPair builds a connected device/cloud Endpoint pair sharing an
// in-process wire and a session store with the given persistence TTL
// (how long a session or app-state descriptor survives a simulated
// disconnect before establish() must fall back to a fresh handshake).
func NewPair(sessionTTL time.Duration) (device *Endpoint, cloud *Endpoint) {
	w := newWire()
	store := cache.New(sessionTTL, sessionTTL/2)

	device = &Endpoint{name: "device", send: w.toCloud, recv: w.toDevice, wire: w, isDevice: true, store: store, sessionTTL: sessionTTL}
	cloud = &Endpoint{name: "cloud", send: w.toDevice, recv: w.toCloud, wire: w, isDevice: false, store: store, sessionTTL: sessionTTL}
	return device, cloud
}

// Close tears down the shared wire; subsequent Send/Establish calls on
// either endpoint fail with ErrLinkClosed.
func (e *Endpoint) Close() {
	select {
	case <-e.wire.closed:
	default:
		close(e.wire.closed)
	}
}

// Establish runs (or resumes) the simulated secure handshake. The device
// side always initiates; the cloud side's Establish call blocks receiving
// the device's opening message.
func (e *Endpoint) Establish() (channel.EstablishResult, error) {
	if cached, ok := e.store.Get(sessionCacheKey); ok {
		e.sessionID = cached.(string)
		log.Infof("%s: resuming session %s", e.name, e.sessionID)
		// A resumed session still requires a live AEAD; in this loopback
		// double we re-key on every Establish call rather than persisting
		// key material, so the wire-level handshake always runs, but the
		// caller-visible result reflects a resumed session identity.
		if err := e.handshake(); err != nil {
			return 0, err
		}
		return channel.SessionResumed, nil
	}

	if err := e.handshake(); err != nil {
		return 0, err
	}
	e.sessionID = uuid.NewString()
	e.store.Set(sessionCacheKey, e.sessionID, e.sessionTTL)
	log.Infof("%s: established fresh session %s", e.name, e.sessionID)
	return channel.EstablishOK, nil
}

func (e *Endpoint) handshake() error {
	hs, err := dcrypto.NewHandshake()
	if err != nil {
		return err
	}

	if err := e.rawSend(hs.PublicKey()); err != nil {
		return err
	}
	peerPub, err := e.rawReceiveBlocking()
	if err != nil {
		return err
	}
	hs.SetPeerPublicKey(peerPub)

	mySig, err := hs.Signature()
	if err != nil {
		return err
	}
	if err := e.rawSend(mySig); err != nil {
		return err
	}
	peerSig, err := e.rawReceiveBlocking()
	if err != nil {
		return err
	}

	aead, err := hs.Finish(peerSig, e.isDevice)
	if err != nil {
		return err
	}
	e.aead = aead
	e.sendCounter = 0
	e.recvCounter = 0
	return nil
}

func (e *Endpoint) rawSend(frame []byte) error {
	select {
	case <-e.wire.closed:
		return ErrLinkClosed
	case e.send <- frame:
		return nil
	}
}

func (e *Endpoint) rawReceiveBlocking() ([]byte, error) {
	select {
	case <-e.wire.closed:
		return nil, ErrLinkClosed
	case frame := <-e.recv:
		return frame, nil
	}
}

// Send encrypts and transmits an already-CoAP-encoded frame. With
// confirmReceived set, Send blocks until the frame fits into the wire's
// buffer (or the link closes); it does not wait for the peer to read it.
// Without it, a full buffer fails the send immediately.
func (e *Endpoint) Send(frame []byte, confirmReceived bool) error {
	if e.aead == nil {
		return errors.New("memchannel: send before establish")
	}
	sealed := e.aead.Seal(frame, e.sendCounter, nil)
	e.sendCounter++

	if !confirmReceived {
		select {
		case <-e.wire.closed:
			return ErrLinkClosed
		case e.send <- sealed:
			return nil
		default:
			return errors.New("memchannel: send buffer full")
		}
	}
	return e.rawSend(sealed)
}

// Receive performs a non-blocking read, decrypting the frame if one is
// waiting. A nil slice with a nil error means no data was available.
func (e *Endpoint) Receive() ([]byte, error) {
	if e.aead == nil {
		return nil, errors.New("memchannel: receive before establish")
	}
	select {
	case <-e.wire.closed:
		return nil, ErrLinkClosed
	case sealed := <-e.recv:
		plain, err := e.aead.Open(sealed, e.recvCounter, nil)
		if err != nil {
			return nil, err
		}
		e.recvCounter++
		return plain, nil
	default:
		return nil, nil
	}
}

// Command applies a session-lifecycle instruction against the shared
// store.
func (e *Endpoint) Command(cmd channel.Command, arg any) error {
	switch cmd {
	case channel.SaveSession:
		if e.sessionID != "" {
			e.store.Set(sessionCacheKey, e.sessionID, e.sessionTTL)
		}
	case channel.LoadSession:
		if cached, ok := e.store.Get(sessionCacheKey); ok {
			e.sessionID = cached.(string)
		}
	case channel.DiscardSession:
		e.store.Delete(sessionCacheKey)
		e.sessionID = ""
	case channel.MoveSession:
		log.Infof("%s: session moved to %v", e.name, arg)
	}
	return nil
}

// CachedAppStateDescriptor returns the last persisted fingerprints, the
// zero value if none have been persisted yet.
func (e *Endpoint) CachedAppStateDescriptor() appstate.Descriptor {
	if cached, ok := e.store.Get(descriptorCacheKey); ok {
		return cached.(appstate.Descriptor)
	}
	return appstate.Descriptor{}
}

// PersistField implements appstate.Store, letting the driver's app-state
// store bracketing land directly on this endpoint's cache.
func (e *Endpoint) PersistField(field appstate.Field, value uint32) {
	current := e.CachedAppStateDescriptor()
	updated := current.With(field, value)
	e.store.Set(descriptorCacheKey, updated, cache.NoExpiration)
}

// Current implements appstate.Store.
func (e *Endpoint) Current() appstate.Descriptor {
	return e.CachedAppStateDescriptor()
}

// NotifyEstablished logs handshake completion; the loopback double has no
// further bookkeeping to do here.
func (e *Endpoint) NotifyEstablished() {
	log.Infof("%s: handshake complete, session %s", e.name, e.sessionID)
}
