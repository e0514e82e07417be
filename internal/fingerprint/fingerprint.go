// Package fingerprint deterministically hashes a consensus value into the
// fixed-length identifier the Job Registry uses as its key.
//
// Grounded on original_source/src/ledger/ledgercontext_manager.cpp, which
// computes chash = HashWrapper::Crypto(consensus_value.SerializeAsString())
// once per orchestrator entry point and reuses it for the lifetime of the
// Job.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// Of computes the fingerprint of a consensus value: sha256 of a canonical,
// deterministic byte encoding. Pure; its only failure mode is a
// serialization error, which is fatal to the caller (spec.md §4.1).
func Of(cv types.ConsensusValue) (types.Fingerprint, error) {
	encoded, err := canonicalEncode(cv)
	if err != nil {
		return types.Fingerprint{}, fmt.Errorf("fingerprint: encode consensus value: %w", err)
	}
	return sha256.Sum256(encoded), nil
}

// MustOf panics on encode failure. Safe for construction paths that have
// already validated cv (e.g. synthetic jobs built in-process).
func MustOf(cv types.ConsensusValue) types.Fingerprint {
	fp, err := Of(cv)
	if err != nil {
		panic(err)
	}
	return fp
}

// canonicalEncode produces a deterministic byte representation of cv:
// fixed-width integers in big-endian order, then each transaction in
// order, then each operation in order. No maps participate, so there is
// no key-ordering ambiguity to resolve (unlike a general JSON canonicalizer
// would need to).
func canonicalEncode(cv types.ConsensusValue) ([]byte, error) {
	buf := make([]byte, 0, 64+len(cv.Transactions)*32)
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], cv.LedgerSeq)
	buf = append(buf, tmp[:4]...)

	binary.BigEndian.PutUint64(tmp[:], uint64(cv.CloseTime))
	buf = append(buf, tmp[:]...)

	buf = append(buf, cv.PreviousLedgerHash[:]...)

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(cv.Transactions)))
	buf = append(buf, tmp[:4]...)

	for _, tx := range cv.Transactions {
		buf = appendLenPrefixed(buf, []byte(tx.SourceAddress))

		binary.BigEndian.PutUint32(tmp[:4], uint32(len(tx.Operations)))
		buf = append(buf, tmp[:4]...)

		for _, op := range tx.Operations {
			binary.BigEndian.PutUint32(tmp[:4], uint32(op.Type))
			buf = append(buf, tmp[:4]...)

			if op.Payment != nil {
				buf = append(buf, 1)
				buf = appendLenPrefixed(buf, []byte(op.Payment.DestAddress))
				buf = appendLenPrefixed(buf, op.Payment.Input)
			} else {
				buf = append(buf, 0)
			}
		}
	}

	return buf, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(data)))
	buf = append(buf, tmp[:]...)
	return append(buf, data...)
}
