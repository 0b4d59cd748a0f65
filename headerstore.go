package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	bolt "go.etcd.io/bbolt"
)

// HeaderStore is the persisted local chain of Bitcoin-style headers that
// the header-sync session reads via headersync.LocalChain — bolt-backed
// exactly like Storage (storage.go), but in its own bucket namespace since
// it tracks a distinct header (not full-block) chain than the teacher's
// own Argon2-consensus chain.
type HeaderStore struct {
	db *bolt.DB
}

var (
	bucketHeaders  = []byte("bh_headers")    // height (big-endian 8B) -> 80-byte serialized header
	bucketHashToHt = []byte("bh_hash_index") // block hash (32B) -> height (big-endian 8B)
	bucketHSMeta   = []byte("bh_meta")       // metadata: last height, gap bounds

	hsMetaKeyLastHeight = []byte("last_height")
	hsMetaKeyGapFirst   = []byte("gap_first")
	hsMetaKeyGapLast    = []byte("gap_last")
)

const headerStoreDBFilename = "headers.db"

func hsHeightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

// NewHeaderStore opens or creates the header database under dataDir.
func NewHeaderStore(dataDir string) (*HeaderStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, headerStoreDBFilename)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("failed to open header database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketHeaders, bucketHashToHt, bucketHSMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create header buckets: %w (additionally failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create header buckets: %w", err)
	}

	return &HeaderStore{db: db}, nil
}

// Close closes the database.
func (s *HeaderStore) Close() error {
	return s.db.Close()
}

// PutHeader stores a header at height, unconditionally. The caller
// (bootstrap loading, or the block-body session once it validates a
// dequeued batch) is responsible for only writing headers that belong on
// the main chain.
func (s *HeaderStore) PutHeader(height uint64, h *wire.BlockHeader) error {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize header: %w", err)
	}

	hash := h.BlockHash()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hsHeightKey(height), buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketHashToHt).Put(hash[:], hsHeightKey(height)); err != nil {
			return err
		}

		meta := tx.Bucket(bucketHSMeta)
		last, hasLast := s.lastHeightLocked(meta)
		if !hasLast || height == last+1 {
			return meta.Put(hsMetaKeyLastHeight, hsHeightKey(height))
		}
		return nil
	})
}

// SetGap records a gap in the persisted chain: its lowest missing height
// (first) and its highest missing height (last). Used
// by the block-body session (external collaborator, out of scope here) or
// by tests reproducing spec.md's literal gap-fill scenario.
func (s *HeaderStore) SetGap(first, last uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketHSMeta)
		if err := meta.Put(hsMetaKeyGapFirst, hsHeightKey(first)); err != nil {
			return err
		}
		return meta.Put(hsMetaKeyGapLast, hsHeightKey(last))
	})
}

// ClearGap removes any recorded gap, e.g. once the block-body session has
// filled it.
func (s *HeaderStore) ClearGap() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketHSMeta)
		if err := meta.Delete(hsMetaKeyGapFirst); err != nil {
			return err
		}
		return meta.Delete(hsMetaKeyGapLast)
	})
}

func (s *HeaderStore) lastHeightLocked(meta *bolt.Bucket) (uint64, bool) {
	v := meta.Get(hsMetaKeyLastHeight)
	if len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// GetLastHeight implements headersync.LocalChain.
func (s *HeaderStore) GetLastHeight() (uint64, error) {
	var height uint64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		height, found = s.lastHeightLocked(tx.Bucket(bucketHSMeta))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("header store has no headers yet")
	}
	return height, nil
}

// GetGapRange implements headersync.LocalChain.
func (s *HeaderStore) GetGapRange() (first, last uint64, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketHSMeta)
		fv := meta.Get(hsMetaKeyGapFirst)
		lv := meta.Get(hsMetaKeyGapLast)
		if len(fv) != 8 || len(lv) != 8 {
			return nil
		}
		first = binary.BigEndian.Uint64(fv)
		last = binary.BigEndian.Uint64(lv)
		ok = true
		return nil
	})
	return first, last, ok
}

// GetHeader implements headersync.LocalChain.
func (s *HeaderStore) GetHeader(height uint64) (*wire.BlockHeader, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hsHeightKey(height))
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no header at height %d", height)
	}

	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize header at height %d: %w", height, err)
	}
	return h, nil
}

// heightForHash looks up the height of a stored header by its block hash,
// via the secondary hash index maintained alongside PutHeader.
func (s *HeaderStore) heightForHash(hash chainhash.Hash) (uint64, bool) {
	var height uint64
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHashToHt).Get(hash[:])
		if len(v) != 8 {
			return nil
		}
		height = binary.BigEndian.Uint64(v)
		found = true
		return nil
	})
	return height, found
}

// maxHeadersPerResponse bounds a single getheaders reply, matching
// Bitcoin's own MaxBlockHeadersPerMsg wire limit.
const maxHeadersPerResponse = wire.MaxBlockHeadersPerMsg

// resolveHeaderSyncLocator answers an inbound get-headers request against
// the local header store: it walks the locator from most to least recent,
// picks the first hash it recognizes, and returns up to
// maxHeadersPerResponse headers above it, stopping at stopHash if given.
// Mirrors Bitcoin Core's own locator-resolution semantics.
func resolveHeaderSyncLocator(store *HeaderStore, locator []*chainhash.Hash, stopHash chainhash.Hash) ([]*wire.BlockHeader, error) {
	start := uint64(0)
	matched := false
	for _, h := range locator {
		if h == nil {
			continue
		}
		if height, ok := store.heightForHash(*h); ok {
			start = height + 1
			matched = true
			break
		}
	}
	if !matched && len(locator) > 0 {
		// No locator hash recognized: nothing in common, answer empty.
		return nil, nil
	}

	last, err := store.GetLastHeight()
	if err != nil {
		return nil, nil
	}

	var headers []*wire.BlockHeader
	for height := start; height <= last && len(headers) < maxHeadersPerResponse; height++ {
		h, err := store.GetHeader(height)
		if err != nil {
			break
		}
		headers = append(headers, h)
		if h.BlockHash() == stopHash {
			break
		}
	}
	return headers, nil
}
