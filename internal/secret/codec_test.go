package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(testKey, "fp-test-key")
	require.NoError(t, err)
	return c
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	_, err := NewCodec("not-hex", "fp")
	assert.Error(t, err)

	_, err = NewCodec("abcd", "fp")
	assert.Error(t, err, "short key must be rejected")

	_, err = NewCodec(testKey, "")
	assert.Error(t, err, "empty fingerprint key must be rejected")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	plain := "1234-5678-9012"
	enc, err := c.Encrypt(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("LPA:1$smdp.example.com$ACTIVATION")
	require.NoError(t, err)
	b, err := c.Encrypt("LPA:1$smdp.example.com$ACTIVATION")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per call")
}

func TestDecryptFailsOnGarbage(t *testing.T) {
	c := newTestCodec(t)

	for _, in := range []string{"", "!!!not-base64!!!", "YWJj", "YWJjZGVmZ2hpamtsbW5vcA=="} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, utils.ErrDecryptionFailed, "input %q", in)
	}
}

func TestDecryptFailsAfterKeyRotation(t *testing.T) {
	c := newTestCodec(t)
	enc, err := c.Encrypt("secret-pin")
	require.NoError(t, err)

	rotated, err := NewCodec(strings.Repeat("ff", 32), "fp-test-key")
	require.NoError(t, err)

	_, err = rotated.Decrypt(enc)
	assert.ErrorIs(t, err, utils.ErrDecryptionFailed)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	c := newTestCodec(t)

	assert.Equal(t, c.Fingerprint("abc"), c.Fingerprint("abc"))
	assert.NotEqual(t, c.Fingerprint("abc"), c.Fingerprint("abd"))

	other, err := NewCodec(testKey, "different-key")
	require.NoError(t, err)
	assert.NotEqual(t, c.Fingerprint("abc"), other.Fingerprint("abc"))
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                 MaskedPlaceholder,
		"abc":              MaskedPlaceholder,
		"1234":             "****1234",
		"123456789012":     "****9012",
		"ABCD-EFGH-IJ9876": "****9876",
	}
	for in, want := range cases {
		assert.Equal(t, want, Mask(in), "input %q", in)
	}
}

func TestMaskDoesNotLeakLength(t *testing.T) {
	short := Mask("9876543210")
	long := Mask("a-much-longer-credential-3210")
	assert.Equal(t, len(short), len(long))
	assert.True(t, strings.HasSuffix(short, "3210"))
}
