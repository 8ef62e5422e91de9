package clearkey

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLicense(t *testing.T) {
	kidHex := "9eb4050de44b4802932e27d75083e266"
	keyHex := "166634c675823c235a4a9446fad52e4d"

	t.Run("valid", func(t *testing.T) {
		pair, err := ParseLicense(kidHex + ":" + keyHex)
		require.NoError(t, err)

		assert.Equal(t, kidHex, hex.EncodeToString(pair.KID[:]))
		assert.Equal(t, keyHex, hex.EncodeToString(pair.Key[:]))
	})

	t.Run("uppercase", func(t *testing.T) {
		pair, err := ParseLicense(strings.ToUpper(kidHex) + ":" + strings.ToUpper(keyHex))
		require.NoError(t, err)
		assert.Equal(t, kidHex, hex.EncodeToString(pair.KID[:]))
	})

	t.Run("dashed key id", func(t *testing.T) {
		pair, err := ParseLicense("9eb4050d-e44b-4802-932e-27d75083e266:" + keyHex)
		require.NoError(t, err)
		assert.Equal(t, kidHex, hex.EncodeToString(pair.KID[:]))
	})

	t.Run("malformed", func(t *testing.T) {
		cases := []struct {
			name    string
			license string
		}{
			{"empty", ""},
			{"missing separator", kidHex + keyHex},
			{"short key id", kidHex[:30] + ":" + keyHex},
			{"long key", kidHex + ":" + keyHex + "ab"},
			{"non hex key id", "zz" + kidHex[2:] + ":" + keyHex},
			{"non hex key", kidHex + ":" + keyHex[:30] + "gg"},
			{"only key id", kidHex + ":"},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := ParseLicense(tc.license)
				assert.ErrorIs(t, err, ErrInvalidLicense)
			})
		}
	})
}

func TestKeyringLookup(t *testing.T) {
	pair, err := ParseLicense("9eb4050de44b4802932e27d75083e266:166634c675823c235a4a9446fad52e4d")
	require.NoError(t, err)

	ring := NewKeyring(pair)

	key, ok := ring.Lookup(pair.KID)
	require.True(t, ok)
	assert.Equal(t, pair.Key, key)

	_, ok = ring.Lookup([16]byte{0x01})
	assert.False(t, ok)
}
