package main

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// headerSyncGenesisBits is the compact proof-of-work target blocknet's
// header-sync chain starts from — the same starting difficulty Bitcoin
// mainnet's own genesis block used, since this subsystem speaks Bitcoin's
// wire format and validation rules bit-exact (spec.md §6).
const headerSyncGenesisBits uint32 = 0x1d00ffff

// genesisTimestamp is the fixed header-sync genesis timestamp (Feb 5, 2026
// 00:00:00 UTC), matching the daemon's own relaunch epoch.
const genesisTimestamp int64 = 1770249600

// GetHeaderSyncGenesis returns the hardcoded height-0 header the header-sync
// chain builds on for every node, mirroring GetGenesisBlock's role for the
// teacher's own consensus chain (block.go) but for the distinct
// Bitcoin-header chain this module downloads.
func GetHeaderSyncGenesis() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: chainhash.Hash{},
		Timestamp:  time.Unix(genesisTimestamp, 0),
		Bits:       headerSyncGenesisBits,
		Nonce:      0,
	}
}

// SeedHeaderSyncGenesis stores the genesis header at height 0 if the store
// is otherwise empty. It is not subject to proof-of-work validation: the
// seed is, by definition, already trusted (spec.md 4.A invariant 2 only
// constrains headers appended *after* the seed).
func SeedHeaderSyncGenesis(store *HeaderStore) error {
	if _, err := store.GetLastHeight(); err == nil {
		return nil
	}
	return store.PutHeader(0, GetHeaderSyncGenesis())
}
