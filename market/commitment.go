package market

import (
	"crypto/subtle"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// CommitBit computes the dispute commitment digest for a secret bit. The
// digest is keccak256 over the exact byte concatenation of the bit (one byte,
// 0x00 or 0x01), the 32-byte purchase identifier and the 32-byte nonce. Mixing
// the purchase identifier into the digest prevents a commitment from being
// replayed into a different purchase's opening. The nonce must be buyer-chosen,
// high-entropy and never reused across purchases.
func CommitBit(bit bool, id [32]byte, nonce [32]byte) [32]byte {
	var bitByte byte
	if bit {
		bitByte = 1
	}
	return ethcrypto.Keccak256Hash([]byte{bitByte}, id[:], nonce[:])
}

// VerifyCommitment recomputes the digest from a revealed (bit, nonce) pair and
// compares it against the stored commitment in constant time.
func VerifyCommitment(commitment [32]byte, bit bool, id [32]byte, nonce [32]byte) bool {
	computed := CommitBit(bit, id, nonce)
	return subtle.ConstantTimeCompare(computed[:], commitment[:]) == 1
}
