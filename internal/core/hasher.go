package core

import (
	"TreasuryLedger/internal/ledger"
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "TreasuryLedger:genesis:v1"

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// HashChain links every applied instruction to the one before it:
// hash[n] = sha256(hash[n-1] || le64(n) || digest(post-state of touched accounts)).
type HashChain struct {
	tip [32]byte
}

func NewHashChain() *HashChain {
	return &HashChain{tip: GenesisHash()}
}

// Resume continues the chain from a persisted tip.
func (h *HashChain) Resume(tip [32]byte) {
	h.tip = tip
}

func (h *HashChain) Tip() [32]byte {
	return h.tip
}

// Link appends sequence seq and returns the previous and new tip.
func (h *HashChain) Link(seq int64, accounts []ledger.Account) (prev, next [32]byte) {
	prev = h.tip
	next = h.Next(seq, StateDigest(accounts))
	return prev, next
}

// Next advances the chain over a precomputed digest.
func (h *HashChain) Next(seq int64, digest []byte) [32]byte {
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(seq))

	sum := sha256.New()
	sum.Write(h.tip[:])
	sum.Write(seqBuf[:])
	sum.Write(digest)
	copy(h.tip[:], sum.Sum(nil))
	return h.tip
}

// StateDigest encodes each account as len(path) || path || amount || supply
// || lamports. Callers pass accounts in a stable order.
func StateDigest(accounts []ledger.Account) []byte {
	digest := make([]byte, 0, len(accounts)*80)
	for i := range accounts {
		path := accounts[i].AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = binary.LittleEndian.AppendUint64(digest, accounts[i].Amount)
		digest = binary.LittleEndian.AppendUint64(digest, accounts[i].Supply)
		digest = binary.LittleEndian.AppendUint64(digest, accounts[i].Lamports)
	}
	return digest
}
