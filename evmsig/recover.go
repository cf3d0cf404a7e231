package evmsig

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/rexpump/media-upload-server-public/apperr"
)

// RecoverSigner implements recover_signer from evm_service.rs: decode the
// hex signature, require exactly 65 bytes, hash the EIP-191-prefixed
// message, recover the public key, and derive the lowercase 0x-prefixed
// Ethereum address.
func RecoverSigner(message, signatureHex string) (string, error) {
	signatureHex = strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return "", apperr.InvalidSignature("signature is not valid hex")
	}
	if len(sig) != 65 {
		return "", apperr.InvalidSignature("signature must be exactly 65 bytes")
	}

	digest := eip191Hash(message)

	// Ethereum lays signatures out as r(32) || s(32) || v(1), with v in
	// {0,1} (or the legacy {27,28}). decred's RecoverCompact wants
	// recoveryByte(1) || r(32) || s(32), with recoveryByte = 27 + recID.
	// This is the conversion original_source's alloy_primitives call did
	// for free; here it is made explicit.
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 3 {
		return "", apperr.InvalidSignature("invalid recovery id in signature")
	}

	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pubKey, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return "", apperr.InvalidSignature(fmt.Sprintf("failed to recover signer: %v", err))
	}

	return addressFromPubKey(pubKey), nil
}

func addressFromPubKey(pubKey *secp256k1.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:]) // drop the 0x04 prefix byte
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}
