package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sessionKeyLen = 16

// SessionKeys is the key material one side of the handshake derives from
// the shared secret: a receive key/IV for the peer's traffic and a send
// key/IV for its own, per the direction it was derived in.
type SessionKeys struct {
	PeerKey []byte
	MyKey   []byte
	PeerIV  []byte
	MyIV    []byte
}

// DeriveSessionKeys runs HKDF-SHA256 over sharedSecret, splitting the
// output into two 16-byte AES keys and two 4-byte IVs.
func DeriveSessionKeys(sharedSecret, salt, info []byte) (SessionKeys, error) {
	r := hkdf.New(sha256.New, sharedSecret, salt, info)

	buf := make([]byte, 2*sessionKeyLen+2*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SessionKeys{}, err
	}

	return SessionKeys{
		PeerKey: buf[:sessionKeyLen],
		MyKey:   buf[sessionKeyLen : 2*sessionKeyLen],
		PeerIV:  buf[2*sessionKeyLen : 2*sessionKeyLen+4],
		MyIV:    buf[2*sessionKeyLen+4:],
	}, nil
}
