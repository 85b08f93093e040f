package dispute

import (
	"bytes"
	"encoding/binary"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Seed derives the selection seed for a dispute from data fixed at
// creation time, so re-running the selection always yields the same
// panel.
func Seed(disputeID, round int64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(disputeID))
	binary.BigEndian.PutUint64(b[8:], uint64(round))
	return b
}

// Pick chooses up to n jurors from the candidate set. Every candidate
// is ranked by the BLAKE2b-256 digest of seed plus address and the n
// lowest digests win, with the address itself as tiebreak. The
// ordering is stable across runs and independent of the input order.
func Pick(seed []byte, candidates []string, n int) []string {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}

	type ranked struct {
		addr   string
		digest [32]byte
	}
	rank := make([]ranked, 0, len(candidates))
	buf := make([]byte, 0, 64)
	for _, addr := range candidates {
		buf = append(buf[:0], seed...)
		buf = append(buf, addr...)
		rank = append(rank, ranked{addr: addr, digest: blake2b.Sum256(buf)})
	}
	sort.Slice(rank, func(i, j int) bool {
		if c := bytes.Compare(rank[i].digest[:], rank[j].digest[:]); c != 0 {
			return c < 0
		}
		return rank[i].addr < rank[j].addr
	})

	if n > len(rank) {
		n = len(rank)
	}
	picked := make([]string, n)
	for i := range picked {
		picked[i] = rank[i].addr
	}
	return picked
}
