package synthetic

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// addressLen is the byte length of a derived synthetic address before hex
// encoding. 20 bytes mirrors the address size common to the account-model
// chains in the retrieval pack (erigontech-erigon's crypto package derives
// addresses the same way: hash a public value, keep the low bytes).
const addressLen = 20

// RandomKeyGenerator derives a fresh synthetic account address by hashing
// random bytes with SHA3-256, standing in for the real key-derivation and
// signing subsystem spec.md §1 places out of scope: a synthetic test/query
// account only needs *an* address, not a usable keypair.
type RandomKeyGenerator struct{}

// NewAddress implements internal/collaborators.KeyGenerator.
func (RandomKeyGenerator) NewAddress() (string, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	digest := sha3.Sum256(seed[:])
	return hex.EncodeToString(digest[:addressLen]), nil
}

// IsValidAddress reports whether address looks like one this package (or
// an equivalent real signer) could have produced: a lowercase hex string
// of exactly addressLen bytes. It is a syntactic check only, mirroring the
// original's PublicKey::IsAddressValid used purely to decide whether a
// caller-supplied source_address needs replacing (spec.md §4.2 step 2).
func IsValidAddress(address string) bool {
	if len(address) != addressLen*2 {
		return false
	}
	_, err := hex.DecodeString(address)
	return err == nil
}
