package clearkey

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLicense = errors.New("invalid clearkey license")

// KeyPair is one parsed ClearKey license entry. The key id identifies the
// pair, the key is the 128-bit AES key used to decrypt segments.
type KeyPair struct {
	KID [16]byte
	Key [16]byte
}

// ParseLicense parses a license string in the form "key_id:key", both halves
// being 32 hex characters. Dashes are tolerated in the key id, since content
// protection metadata usually formats it as a UUID.
func ParseLicense(license string) (KeyPair, error) {
	kidHex, keyHex, ok := strings.Cut(license, ":")
	if !ok {
		return KeyPair{}, fmt.Errorf("%w: missing ':' separator", ErrInvalidLicense)
	}

	var pair KeyPair
	if err := decodeHex128(pair.KID[:], kidHex); err != nil {
		return KeyPair{}, fmt.Errorf("%w: key id: %v", ErrInvalidLicense, err)
	}
	if err := decodeHex128(pair.Key[:], keyHex); err != nil {
		return KeyPair{}, fmt.Errorf("%w: key: %v", ErrInvalidLicense, err)
	}

	return pair, nil
}

// ParseKID parses a 128-bit key id, accepting the dashed UUID form used by
// the cenc:default_KID attribute.
func ParseKID(s string) ([16]byte, error) {
	var kid [16]byte
	if err := decodeHex128(kid[:], s); err != nil {
		return kid, fmt.Errorf("%w: key id: %v", ErrInvalidLicense, err)
	}
	return kid, nil
}

func decodeHex128(dst []byte, s string) error {
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != 32 {
		return fmt.Errorf("expected 32 hex characters, got %d", len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return err
	}
	return nil
}

// Keyring maps key ids to their decryption keys.
type Keyring map[[16]byte][16]byte

func NewKeyring(pairs ...KeyPair) Keyring {
	ring := Keyring{}
	for _, pair := range pairs {
		ring[pair.KID] = pair.Key
	}
	return ring
}

func (r Keyring) Lookup(kid [16]byte) ([16]byte, bool) {
	key, ok := r[kid]
	return key, ok
}
