// Package evmsig implements the EIP-191 "personal sign" message framing,
// secp256k1 signature recovery, and the on-chain creator() ownership check
// used by §4.F. Grounded on original_source's services/evm_service.rs,
// translated from alloy's signature types to decred's secp256k1 package
// (the library the teacher already depends on) — see DESIGN.md for the
// byte-layout conversion this requires.
package evmsig

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// BuildSignMessage reproduces build_sign_message from evm_service.rs
// exactly, byte for byte — this is the canonical message clients sign
// (§4.F item 2).
func BuildSignMessage(chainID uint64, tokenAddress string, timestamp int64) string {
	return fmt.Sprintf(
		"RexPump Metadata Update\nChain: %d\nToken: %s\nTimestamp: %d",
		chainID, strings.ToLower(tokenAddress), timestamp,
	)
}

// eip191Hash computes keccak256("\x19Ethereum Signed Message:\n" +
// len(message) + message), the prefixed digest that is actually signed
// under EIP-191's personal-sign framing.
func eip191Hash(message string) [32]byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefixed))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NormalizeAddress lowercases and ensures a 0x prefix, mirroring
// token_metadata.rs::normalize_address.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}

// ValidateAddress mirrors token_metadata.rs::validate_address: exactly 42
// characters, "0x" + 40 hex digits.
func ValidateAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, r := range addr[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
