package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"github.com/lucas-clemente/aes12"
)

// AEAD wraps a pair of AES-GCM-12 ciphers, one per traffic direction,
// keyed from a SessionKeys key schedule.
type AEAD struct {
	myIV, peerIV []byte
	seal, open   cipher.AEAD
}

// NewAEAD builds an AEAD from a derived key schedule.
func NewAEAD(keys SessionKeys) (*AEAD, error) {
	if len(keys.MyKey) != 16 || len(keys.PeerKey) != 16 || len(keys.MyIV) != 4 || len(keys.PeerIV) != 4 {
		return nil, errors.New("crypto: AEAD requires 16-byte keys and 4-byte IVs")
	}

	sealCipher, err := aes12.NewCipher(keys.MyKey)
	if err != nil {
		return nil, err
	}
	seal, err := aes12.NewGCM(sealCipher)
	if err != nil {
		return nil, err
	}

	openCipher, err := aes12.NewCipher(keys.PeerKey)
	if err != nil {
		return nil, err
	}
	open, err := aes12.NewGCM(openCipher)
	if err != nil {
		return nil, err
	}

	return &AEAD{myIV: keys.MyIV, peerIV: keys.PeerIV, seal: seal, open: open}, nil
}

// Seal encrypts plaintext under the given per-message counter.
func (a *AEAD) Seal(plaintext []byte, counter uint16, associatedData []byte) []byte {
	return a.seal.Seal(nil, nonce(a.myIV, counter), plaintext, associatedData)
}

// Open decrypts ciphertext under the given per-message counter.
func (a *AEAD) Open(ciphertext []byte, counter uint16, associatedData []byte) ([]byte, error) {
	return a.open.Open(nil, nonce(a.peerIV, counter), ciphertext, associatedData)
}

func nonce(iv []byte, counter uint16) []byte {
	n := make([]byte, 12)
	copy(n[0:4], iv)
	binary.LittleEndian.PutUint16(n[4:12], counter)
	return n
}
