package clearkey

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	ErrDecrypt     = errors.New("decryption failed")
	ErrKeyNotFound = errors.New("no matching key for key id")
)

// Decrypt decrypts one media segment with AES-128-CTR, the cipher mode
// ClearKey uses for the cenc protection scheme. The iv may be 8 or 16 bytes:
// an 8-byte iv occupies the upper half of the counter block and the block
// counter starts at zero, which is the cenc convention.
//
// Decrypt is a pure function, safe to call concurrently for segments of the
// same or different tracks.
func Decrypt(data []byte, key [16]byte, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	counter, err := counterBlock(iv)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCTR(block, counter).XORKeyStream(out, data)
	return out, nil
}

// DecryptWith resolves the key for kid from the keyring and decrypts.
// Fails with ErrKeyNotFound when the keyring has no entry for the kid.
func DecryptWith(ring Keyring, kid [16]byte, data []byte, iv []byte) ([]byte, error) {
	key, ok := ring.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrKeyNotFound, kid)
	}
	return Decrypt(data, key, iv)
}

// SequenceIV derives a deterministic 8-byte iv from a segment sequence
// number, used when the manifest does not carry per-segment ivs.
func SequenceIV(sequence uint64) []byte {
	iv := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		iv[i] = byte(sequence)
		sequence >>= 8
	}
	return iv
}

func counterBlock(iv []byte) ([]byte, error) {
	counter := make([]byte, aes.BlockSize)
	switch len(iv) {
	case 8:
		copy(counter, iv)
	case aes.BlockSize:
		copy(counter, iv)
	default:
		return nil, fmt.Errorf("%w: iv must be 8 or 16 bytes, got %d", ErrDecrypt, len(iv))
	}
	return counter, nil
}
