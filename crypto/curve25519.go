// Package crypto adapts the teacher's session/Curve25519.go,
// session/HKDF.go and crypto/AEAD.go into the primitives the simulated
// secure channel (channel/memchannel) uses to derive and apply session
// keys: an X25519 key agreement, an HKDF-SHA256 key schedule, and an
// AES-GCM-12 AEAD wrapper.
package crypto

import (
	"crypto/rand"
	"errors"

	x25519 "golang.org/x/crypto/curve25519"
)

// KeySize is the width of an X25519 private or public key.
const KeySize = 32

// KeyPair is an X25519 key-agreement keypair.
type KeyPair struct {
	private [KeySize]byte
	public  [KeySize]byte
}

// NewKeyPair generates a fresh keypair from the platform RNG.
func NewKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, errors.New("crypto: could not generate private key")
	}
	clamp(&kp.private)
	x25519.ScalarBaseMult(&kp.public, &kp.private)
	return kp, nil
}

// clamp applies the X25519 bit-clamping required by the scalar multiply
// convention, see https://cr.yp.to/ecdh.html.
func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// PublicKey returns the public half of the keypair.
func (kp *KeyPair) PublicKey() []byte {
	return kp.public[:]
}

// SharedSecret computes the X25519 shared secret with a peer's public key.
func (kp *KeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != KeySize {
		return nil, errors.New("crypto: peer public key must be 32 bytes")
	}
	var peer, secret [KeySize]byte
	copy(peer[:], peerPublic)
	x25519.ScalarMult(&secret, &kp.private, &peer)
	return secret[:], nil
}
