package crypto

import (
	"bytes"
	"crypto/sha256"
	"errors"
)

// ErrSignatureMismatch is returned by Verify when the peer's signature does
// not match the locally derived shared secret, indicating a failed or
// tampered handshake.
var ErrSignatureMismatch = errors.New("crypto: peer signature does not match shared secret")

// Handshake carries one side's key-agreement state through a two-message
// handshake: exchange public keys, both sides derive the same shared
// secret, each proves it by hashing the secret as a signature, then both
// derive an AEAD from the same HKDF schedule (mirrored key order per
// side, so "my key" on one side is "peer key" on the other).
type Handshake struct {
	keys *KeyPair
	peer []byte
}

// NewHandshake generates a fresh ephemeral keypair for one side of a
// handshake.
func NewHandshake() (*Handshake, error) {
	kp, err := NewKeyPair()
	if err != nil {
		return nil, err
	}
	return &Handshake{keys: kp}, nil
}

// PublicKey returns the public key to send to the peer.
func (h *Handshake) PublicKey() []byte {
	return h.keys.PublicKey()
}

// SetPeerPublicKey records the public key received from the peer.
func (h *Handshake) SetPeerPublicKey(peer []byte) {
	h.peer = peer
}

// Signature proves knowledge of the shared secret without revealing it:
// the SHA-256 hash of the shared secret, sent to the peer for comparison.
func (h *Handshake) Signature() ([]byte, error) {
	secret, err := h.keys.SharedSecret(h.peer)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(secret)
	return sum[:], nil
}

// Finish verifies the peer's signature and, if it matches, derives the
// AEAD for this side. asInitiator selects which half of the HKDF output
// is "my key" versus "peer key" so the two sides end up symmetric.
func (h *Handshake) Finish(peerSignature []byte, asInitiator bool) (*AEAD, error) {
	signature, err := h.Signature()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(signature, peerSignature) {
		return nil, ErrSignatureMismatch
	}

	secret, err := h.keys.SharedSecret(h.peer)
	if err != nil {
		return nil, err
	}

	keys, err := DeriveSessionKeys(secret, nil, nil)
	if err != nil {
		return nil, err
	}
	if !asInitiator {
		keys.PeerKey, keys.MyKey = keys.MyKey, keys.PeerKey
		keys.PeerIV, keys.MyIV = keys.MyIV, keys.PeerIV
	}
	return NewAEAD(keys)
}
