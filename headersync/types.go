package headersync

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSummary is the minimal per-header record the queue retains: enough
// to verify proof-of-work and linkage, without storing the block body.
type HeaderSummary struct {
	Hash      chainhash.Hash
	PrevHash  chainhash.Hash
	Bits      uint32
	Timestamp int64
	Version   int32
	Height    uint64
}

// summaryFromWire derives a HeaderSummary from a decoded wire.BlockHeader at
// the given height. The hash is computed once here (double-SHA256 of the
// 80-byte canonical serialization, via wire.BlockHeader.BlockHash).
func summaryFromWire(h *wire.BlockHeader, height uint64) HeaderSummary {
	return HeaderSummary{
		Hash:      h.BlockHash(),
		PrevHash:  h.PrevBlock,
		Bits:      h.Bits,
		Timestamp: h.Timestamp.Unix(),
		Version:   h.Version,
		Height:    height,
	}
}

// Checkpoint is a (height, hash) pair treated as axiomatic.
type Checkpoint struct {
	Height uint64
	Hash   chainhash.Hash
}

// SyncRange brackets the download: Seed is the highest block already
// persisted that the queue builds on (not re-downloaded); Stop is the
// terminal checkpoint the queue must reach.
type SyncRange struct {
	Seed Checkpoint
	Stop Checkpoint
}

// Empty reports whether the range requires no download at all.
func (r SyncRange) Empty() bool {
	return r.Seed.Height == r.Stop.Height && r.Seed.Hash == r.Stop.Hash
}
