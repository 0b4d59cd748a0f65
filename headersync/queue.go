package headersync

import (
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderQueue is the ordered, contiguous buffer of header summaries the
// session and every attached peer protocol share. Mutation is serialized
// through a single mutex; critical sections are bounded by batch size
// (wire.MaxBlockHeadersPerMsg, 2,000) so lock hold times stay small even
// under concurrent peer appends.
type HeaderQueue struct {
	mu sync.Mutex

	checkpoints *CheckpointSet

	initialized bool
	seed        Checkpoint
	stopHeight  uint64

	// firstHeight is seed.Height+1 once initialized. headers[0] holds that
	// height; the slice is contiguous by construction.
	firstHeight uint64
	headers     []HeaderSummary
}

// NewHeaderQueue constructs an empty queue bound to a checkpoint set.
// Initialize must be called, with the seed and the terminal (stop) height,
// before any append.
func NewHeaderQueue(checkpoints *CheckpointSet) *HeaderQueue {
	return &HeaderQueue{checkpoints: checkpoints}
}

// Initialize records the seed header and the terminal stop height, and
// establishes first_height = seed.Height+1. Fails with ErrAlreadyInitialized
// if the queue has already been initialized, whether or not it holds headers.
func (q *HeaderQueue) Initialize(seed, stop Checkpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.initialized {
		return ErrAlreadyInitialized
	}

	q.initialized = true
	q.seed = seed
	q.stopHeight = stop.Height
	q.firstHeight = seed.Height + 1
	q.headers = nil
	return nil
}

// Empty reports whether no headers have been appended yet.
func (q *HeaderQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.headers) == 0
}

// Size returns the number of headers currently held.
func (q *HeaderQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.headers)
}

// TailHeight returns the height of the last header held, or the seed height
// if the queue is empty.
func (q *HeaderQueue) TailHeight() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tailHeightLocked()
}

func (q *HeaderQueue) tailHeightLocked() uint64 {
	if len(q.headers) == 0 {
		return q.seed.Height
	}
	return q.headers[len(q.headers)-1].Height
}

// TailHash returns the hash of the last header held, or the seed hash if
// the queue is empty. Peer protocols use this to build the get-headers
// locator for the next request.
func (q *HeaderQueue) TailHash() (hash chainhash.Hash, height uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.headers) == 0 {
		return q.seed.Hash, q.seed.Height
	}
	tail := q.headers[len(q.headers)-1]
	return tail.Hash, tail.Height
}

// IsFull reports whether the queue has reached the terminal stop height.
func (q *HeaderQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isFullLocked()
}

func (q *HeaderQueue) isFullLocked() bool {
	return q.initialized && q.tailHeightLocked() == q.stopHeight
}

// StopHeight returns the configured terminal height.
func (q *HeaderQueue) StopHeight() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopHeight
}

// Enqueue validates and appends a contiguous run of wire headers starting
// at the current tail+1 (or first_height if empty). The batch is atomic:
// either every header is accepted or the queue is left bit-identical to its
// pre-call state.
func (q *HeaderQueue) Enqueue(batch []*wire.BlockHeader) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.initialized {
		return ErrAlreadyInitialized
	}

	prevHash := q.seed.Hash
	prevHeight := q.seed.Height
	if len(q.headers) > 0 {
		tail := q.headers[len(q.headers)-1]
		prevHash, prevHeight = tail.Hash, tail.Height
	}

	accepted := make([]HeaderSummary, 0, len(batch))
	for _, wh := range batch {
		height := prevHeight + 1

		// Invariant 5: terminal bound.
		if height > q.stopHeight {
			return ErrTerminalBound
		}

		// Invariant 1/2: contiguity and seed linkage (uniform: predecessor's
		// hash must equal this header's PrevBlock).
		if wh.PrevBlock != prevHash {
			return ErrDiscontinuousHeight
		}

		if err := validateHeaderFields(wh); err != nil {
			return err
		}

		summary := summaryFromWire(wh, height)

		// Invariant 4: proof of work.
		if err := checkProofOfWork(wh.Bits, &summary.Hash); err != nil {
			return err
		}

		// Invariant 3: checkpoint agreement.
		if cp, ok := q.checkpoints.Contains(height); ok && cp.Hash != summary.Hash {
			return ErrCheckpointMismatch
		}

		accepted = append(accepted, summary)
		prevHash, prevHeight = summary.Hash, height
	}

	q.headers = append(q.headers, accepted...)
	return nil
}

// Dequeue removes and returns the first n headers for downstream block-body
// fetch. Invariants are preserved for the remainder: first_height advances
// by n, the remaining headers are still contiguous.
func (q *HeaderQueue) Dequeue(n int) []HeaderSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.headers) == 0 {
		return nil
	}
	if n > len(q.headers) {
		n = len(q.headers)
	}

	out := make([]HeaderSummary, n)
	copy(out, q.headers[:n])
	q.headers = q.headers[n:]
	q.firstHeight += uint64(n)
	return out
}

// RollbackTo truncates the queue so that tail_height == height. It is
// spec-mandated queue API (4.A) rather than an internal detail, but no
// session or peer control-flow path calls it today: Enqueue validates and
// admits a batch atomically (a checkpoint mismatch anywhere in a batch
// rejects the whole batch before any of it is appended), so the tentative
// tail this method exists to discard is, in the current single-writer
// design, never actually produced. It's retained for a caller with a
// legitimate reason to discard already-committed tail headers after the
// fact — e.g. a future multi-batch reconciliation policy — without
// requiring the queue to grow a second removal path later.
func (q *HeaderQueue) RollbackTo(height uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if height < q.seed.Height {
		return ErrInvalidHeader
	}
	if height == q.seed.Height {
		q.headers = nil
		return nil
	}

	idx := 0
	for idx < len(q.headers) && q.headers[idx].Height <= height {
		idx++
	}
	q.headers = q.headers[:idx]
	return nil
}

// validateHeaderFields rejects malformed fields before hashing: a zero
// target and a timestamp of zero both indicate a header that was never
// meant to represent real work.
func validateHeaderFields(h *wire.BlockHeader) error {
	if h.Bits == 0 {
		return ErrInvalidHeader
	}
	if h.Timestamp.Unix() <= 0 {
		return ErrInvalidHeader
	}
	return nil
}

// checkProofOfWork rejects a malformed compact target, or a hash (read as a
// 256-bit little-endian integer, via blockchain.HashToBig) exceeding that
// target.
func checkProofOfWork(bits uint32, hash *chainhash.Hash) error {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return ErrBadProofOfWork
	}

	if blockchain.HashToBig(hash).Cmp(target) > 0 {
		return ErrBadProofOfWork
	}
	return nil
}
