package headersync

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func emptyCheckpoints(t *testing.T) *CheckpointSet {
	t.Helper()
	cps, err := NewCheckpointSet(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cps
}

func initializedQueue(t *testing.T, genesis *wire.BlockHeader, stopHeight uint64, cps *CheckpointSet) *HeaderQueue {
	t.Helper()
	q := NewHeaderQueue(cps)
	seed := Checkpoint{Hash: genesis.BlockHash(), Height: 0}
	stop := Checkpoint{Height: stopHeight}
	if err := q.Initialize(seed, stop); err != nil {
		t.Fatalf("unexpected error initializing queue: %v", err)
	}
	return q
}

func TestHeaderQueue_EnqueueAcceptsContiguousBatch(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	batch := chainHeaders(genesis, 5)
	if err := q.Enqueue(batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.Size() != 5 {
		t.Fatalf("expected 5 headers, got %d", q.Size())
	}
	if q.TailHeight() != 5 {
		t.Fatalf("expected tail height 5, got %d", q.TailHeight())
	}
}

func TestHeaderQueue_EnqueueRejectsDiscontinuousBatch(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	batch := chainHeaders(genesis, 3)
	// Break the chain: second header no longer points at the first.
	batch[1].PrevBlock = hashN(99)

	err := q.Enqueue(batch)
	if !errors.Is(err, ErrDiscontinuousHeight) {
		t.Fatalf("expected ErrDiscontinuousHeight, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected rejected batch to leave queue untouched, got size %d", q.Size())
	}
}

func TestHeaderQueue_EnqueueIsAtomicOnLateFailure(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	batch := chainHeaders(genesis, 5)
	// Corrupt only the last header in an otherwise-valid batch.
	batch[4].Bits = 0

	err := q.Enqueue(batch)
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected no partial acceptance, got size %d", q.Size())
	}
}

func TestHeaderQueue_EnqueueRejectsBadProofOfWork(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	batch := chainHeaders(genesis, 1)
	batch[0].Bits = 0x03000001 // valid-looking but tiny target: virtually any hash exceeds it

	err := q.Enqueue(batch)
	if !errors.Is(err, ErrBadProofOfWork) {
		t.Fatalf("expected ErrBadProofOfWork, got %v", err)
	}
}

func TestHeaderQueue_EnqueueRejectsCheckpointMismatch(t *testing.T) {
	genesis := testGenesis()
	batch := chainHeaders(genesis, 3)

	// Configure a checkpoint at height 2 naming a hash that disagrees with
	// the (honest, contiguous) header batch we're about to enqueue.
	cps, err := NewCheckpointSet([]Checkpoint{{Height: 2, Hash: hashN(200)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := initializedQueue(t, genesis, 10, cps)

	if err := q.Enqueue(batch); !errors.Is(err, ErrCheckpointMismatch) {
		t.Fatalf("expected ErrCheckpointMismatch, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected rejected batch to leave queue untouched, got size %d", q.Size())
	}
}

func TestHeaderQueue_EnqueueRejectsPastTerminalBound(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 3, emptyCheckpoints(t))

	batch := chainHeaders(genesis, 5)
	if err := q.Enqueue(batch); !errors.Is(err, ErrTerminalBound) {
		t.Fatalf("expected ErrTerminalBound, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected no headers accepted when batch overruns stop height, got size %d", q.Size())
	}
}

func TestHeaderQueue_IsFullAtStopHeight(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 3, emptyCheckpoints(t))

	if err := q.Enqueue(chainHeaders(genesis, 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.IsFull() {
		t.Fatal("expected queue to report full at stop height")
	}
}

func TestHeaderQueue_DequeuePreservesContiguityForRemainder(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	if err := q.Enqueue(chainHeaders(genesis, 5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := q.Dequeue(2)
	if len(out) != 2 || out[0].Height != 1 || out[1].Height != 2 {
		t.Fatalf("unexpected dequeue result: %+v", out)
	}
	if q.Size() != 3 {
		t.Fatalf("expected 3 headers remaining, got %d", q.Size())
	}
	if q.TailHeight() != 5 {
		t.Fatalf("expected tail height unaffected by dequeue, got %d", q.TailHeight())
	}
}

func TestHeaderQueue_RollbackToTruncatesAboveHeight(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	if err := q.Enqueue(chainHeaders(genesis, 5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.RollbackTo(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TailHeight() != 2 {
		t.Fatalf("expected tail height 2 after rollback, got %d", q.TailHeight())
	}
	if q.Size() != 2 {
		t.Fatalf("expected 2 headers remaining after rollback, got %d", q.Size())
	}
}

func TestHeaderQueue_EnqueueEmptyBatchRejected(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	if err := q.Enqueue(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestHeaderQueue_InitializeTwiceFails(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	seed := Checkpoint{Hash: genesis.BlockHash(), Height: 0}
	stop := Checkpoint{Height: 20}
	if err := q.Initialize(seed, stop); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}
