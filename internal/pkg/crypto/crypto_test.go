package crypto

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashReader(t *testing.T) {
	hr := NewHashReader(strings.NewReader("hello"))
	data, err := io.ReadAll(hr)
	require.NoError(t, err)

	require.Equal(t, "hello", string(data))
	require.Equal(t, int64(5), hr.Size())
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hr.SHA256())
	require.Equal(t, hr.SHA256(), ComputeSHA256([]byte("hello")))
}

func TestHMACSHA256(t *testing.T) {
	key := []byte("secret")
	sig := HMACSHA256(key, "read\nkey\n123")

	require.True(t, VerifyHMACSHA256(key, "read\nkey\n123", sig))
	require.False(t, VerifyHMACSHA256(key, "read\nkey\n124", sig))
	require.False(t, VerifyHMACSHA256([]byte("other"), "read\nkey\n123", sig))
	require.False(t, VerifyHMACSHA256(key, "read\nkey\n123", "not-hex"))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	require.Len(t, a, KeySize*2)
	require.NotEqual(t, a, b)

	raw, err := ParseHexKey(" " + a + "\n")
	require.NoError(t, err)
	require.Len(t, raw, KeySize)

	_, err = ParseHexKey("abcd")
	require.ErrorIs(t, err, ErrInvalidHexKey)
	_, err = ParseHexKey(strings.Repeat("zz", KeySize))
	require.ErrorIs(t, err, ErrInvalidHexKey)
}
