package evmsig

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"
)

func TestBuildSignMessage(t *testing.T) {
	msg := BuildSignMessage(1, "0xABCDEF0000000000000000000000000000000001", 1700000000)
	require.Equal(t, "RexPump Metadata Update\nChain: 1\nToken: 0xabcdef0000000000000000000000000000000001\nTimestamp: 1700000000", msg)
}

func TestValidateAddress(t *testing.T) {
	require.True(t, ValidateAddress("0x00000000000000000000000000000000000000aB"))
	require.False(t, ValidateAddress("not-an-address"))
	require.False(t, ValidateAddress("0x00")) // too short
}

func TestNormalizeAddress(t *testing.T) {
	require.Equal(t, "0xabc", NormalizeAddress("ABC"))
	require.Equal(t, "0xabc", NormalizeAddress("0xABC"))
}

// signCompact signs digest with priv using decred's compact-signature
// format, the inverse of the conversion RecoverSigner performs, so the
// round trip exercises the same byte layout production code relies on.
func signCompact(priv *secp256k1.PrivateKey, digest [32]byte) []byte {
	sig := ecdsa.SignCompact(priv, digest[:], false)
	// sig is recoveryByte(27+v) || r || s; convert to Ethereum's r||s||v(0/1)
	out := make([]byte, 65)
	copy(out[:64], sig[1:])
	out[64] = sig[0] - 27
	return out
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	message := BuildSignMessage(1, "0x0000000000000000000000000000000000c0de", 1700000000)
	digest := eip191Hash(message)

	sig := signCompact(priv, digest)
	sigHex := "0x" + hex.EncodeToString(sig)

	recovered, err := RecoverSigner(message, sigHex)
	require.NoError(t, err)

	expected := addressFromPubKey(priv.PubKey())
	require.Equal(t, expected, recovered)
}

func TestRecoverSignerRejectsShortSignature(t *testing.T) {
	_, err := RecoverSigner("hello", "0xdeadbeef")
	require.Error(t, err)
}
