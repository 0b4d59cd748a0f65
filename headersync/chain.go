package headersync

import "github.com/btcsuite/btcd/wire"

// LocalChain is consumed from the persisted blockchain (an external
// collaborator; spec.md §6 "Consumed from the local chain"). Header sync
// never writes through this interface — it only reads the seed, stop and
// gap endpoints needed to derive a sync range.
type LocalChain interface {
	// GetLastHeight returns the height of the chain's current tip.
	GetLastHeight() (uint64, error)

	// GetGapRange returns the first missing contiguous range in the
	// persisted chain, if any: (first, last) are the lowest and highest
	// missing heights of the gap. The session seeds from first-1 and
	// stops at last+1, the known-good heights on either side of it.
	GetGapRange() (first, last uint64, ok bool)

	// GetHeader returns the wire-format header persisted at height.
	GetHeader(height uint64) (*wire.BlockHeader, error)
}
