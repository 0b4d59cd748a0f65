package main

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func testHeaderAt(prevHash chainhash.Hash, nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    1,
		PrevBlock:  prevHash,
		MerkleRoot: chainhash.Hash{byte(nonce + 1)},
		Timestamp:  time.Unix(1231006505, 0).Add(time.Duration(nonce) * 10 * time.Minute),
		Bits:       headerSyncGenesisBits,
		Nonce:      nonce,
	}
}

func openTestHeaderStore(t *testing.T) *HeaderStore {
	t.Helper()
	store, err := NewHeaderStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewHeaderStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSeedHeaderSyncGenesis_PutsGenesisOnlyOnce(t *testing.T) {
	store := openTestHeaderStore(t)

	if err := SeedHeaderSyncGenesis(store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	last, err := store.GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected last height 0, got %d", last)
	}

	h, err := store.GetHeader(0)
	if err != nil {
		t.Fatalf("GetHeader(0): %v", err)
	}
	if h.BlockHash() != GetHeaderSyncGenesis().BlockHash() {
		t.Fatalf("stored genesis does not match GetHeaderSyncGenesis()")
	}

	// Re-seeding a non-empty store is a no-op; a second genesis write would
	// otherwise clobber a chain that has since grown past height 0.
	if err := store.PutHeader(1, testHeaderAt(h.BlockHash(), 1)); err != nil {
		t.Fatalf("PutHeader(1): %v", err)
	}
	if err := SeedHeaderSyncGenesis(store); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	last, err = store.GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight: %v", err)
	}
	if last != 1 {
		t.Fatalf("re-seeding overwrote chain progress: last height = %d, want 1", last)
	}
}

func TestHeaderStore_PutHeader_AdvancesLastHeightOnlyContiguously(t *testing.T) {
	store := openTestHeaderStore(t)
	genesis := GetHeaderSyncGenesis()
	if err := store.PutHeader(0, genesis); err != nil {
		t.Fatalf("PutHeader(0): %v", err)
	}

	h1 := testHeaderAt(genesis.BlockHash(), 1)
	if err := store.PutHeader(1, h1); err != nil {
		t.Fatalf("PutHeader(1): %v", err)
	}

	// A write far ahead of the contiguous tail (simulating a gap-fill
	// write from the block-body session) must not advance last_height.
	h5 := testHeaderAt(h1.BlockHash(), 5)
	if err := store.PutHeader(5, h5); err != nil {
		t.Fatalf("PutHeader(5): %v", err)
	}

	last, err := store.GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight: %v", err)
	}
	if last != 1 {
		t.Fatalf("expected last height to stay at 1 after a non-contiguous write, got %d", last)
	}

	got, err := store.GetHeader(5)
	if err != nil {
		t.Fatalf("GetHeader(5): %v", err)
	}
	if got.BlockHash() != h5.BlockHash() {
		t.Fatalf("header at height 5 was not persisted correctly")
	}
}

func TestHeaderStore_SetAndClearGap(t *testing.T) {
	store := openTestHeaderStore(t)

	if _, _, ok := store.GetGapRange(); ok {
		t.Fatalf("expected no gap on a fresh store")
	}

	if err := store.SetGap(10, 20); err != nil {
		t.Fatalf("SetGap: %v", err)
	}
	first, last, ok := store.GetGapRange()
	if !ok || first != 10 || last != 20 {
		t.Fatalf("GetGapRange() = (%d, %d, %v), want (10, 20, true)", first, last, ok)
	}

	if err := store.ClearGap(); err != nil {
		t.Fatalf("ClearGap: %v", err)
	}
	if _, _, ok := store.GetGapRange(); ok {
		t.Fatalf("expected gap cleared")
	}
}

func TestResolveHeaderSyncLocator_WalksFromMatchedAncestor(t *testing.T) {
	store := openTestHeaderStore(t)
	genesis := GetHeaderSyncGenesis()
	if err := store.PutHeader(0, genesis); err != nil {
		t.Fatalf("PutHeader(0): %v", err)
	}

	prev := genesis.BlockHash()
	var chain []*wire.BlockHeader
	for i := uint32(1); i <= 5; i++ {
		h := testHeaderAt(prev, i)
		if err := store.PutHeader(uint64(i), h); err != nil {
			t.Fatalf("PutHeader(%d): %v", i, err)
		}
		chain = append(chain, h)
		prev = h.BlockHash()
	}

	locator := []*chainhash.Hash{ptr(chain[1].BlockHash())} // height 2
	stop := chain[3].BlockHash()                            // height 4

	got, err := resolveHeaderSyncLocator(store, locator, stop)
	if err != nil {
		t.Fatalf("resolveHeaderSyncLocator: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 headers (heights 3-4), got %d", len(got))
	}
	if got[0].BlockHash() != chain[2].BlockHash() || got[1].BlockHash() != stop {
		t.Fatalf("unexpected headers returned")
	}
}

func TestResolveHeaderSyncLocator_UnrecognizedLocatorReturnsEmpty(t *testing.T) {
	store := openTestHeaderStore(t)
	if err := store.PutHeader(0, GetHeaderSyncGenesis()); err != nil {
		t.Fatalf("PutHeader(0): %v", err)
	}

	unknown := chainhash.Hash{0xff}
	got, err := resolveHeaderSyncLocator(store, []*chainhash.Hash{&unknown}, chainhash.Hash{})
	if err != nil {
		t.Fatalf("resolveHeaderSyncLocator: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no headers for an unrecognized locator, got %d", len(got))
	}
}

func ptr(h chainhash.Hash) *chainhash.Hash { return &h }
