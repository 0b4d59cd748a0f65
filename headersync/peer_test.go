package headersync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// oneShotChannel replies with a fixed batch once, then an empty reply.
type oneShotChannel struct {
	batch []*wire.BlockHeader
	sent  bool
}

func (c *oneShotChannel) Authority() string         { return "one-shot" }
func (c *oneShotChannel) NegotiatedVersion() uint32 { return 70015 }
func (c *oneShotChannel) Stop() error               { return nil }

func (c *oneShotChannel) SendGetHeaders(ctx context.Context, locator []*chainhash.Hash, stopHash chainhash.Hash) error {
	return nil
}

func (c *oneShotChannel) RecvHeaders(ctx context.Context) ([]*wire.BlockHeader, error) {
	if c.sent {
		return nil, nil
	}
	c.sent = true
	return c.batch, nil
}

// stopHashCapturingChannel records the stopHash of every SendGetHeaders
// call so tests can assert it matches the session's derived stop
// checkpoint rather than always going out as the zero hash.
type stopHashCapturingChannel struct {
	batch   []*wire.BlockHeader
	sent    bool
	sawStop []chainhash.Hash
}

func (c *stopHashCapturingChannel) Authority() string         { return "stop-hash-capture" }
func (c *stopHashCapturingChannel) NegotiatedVersion() uint32 { return 70015 }
func (c *stopHashCapturingChannel) Stop() error               { return nil }

func (c *stopHashCapturingChannel) SendGetHeaders(ctx context.Context, locator []*chainhash.Hash, stopHash chainhash.Hash) error {
	c.sawStop = append(c.sawStop, stopHash)
	return nil
}

func (c *stopHashCapturingChannel) RecvHeaders(ctx context.Context) ([]*wire.BlockHeader, error) {
	if c.sent {
		return nil, nil
	}
	c.sent = true
	return c.batch, nil
}

func TestPeerSync_Run_SendsConfiguredStopHashNotZero(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 3, emptyCheckpoints(t))

	channel := &stopHashCapturingChannel{batch: chainHeaders(genesis, 3)}
	var stopped atomic.Bool
	want := chainhash.Hash{0xaa, 0xbb}
	p := NewPeerSync(channel, q, InitialFloor, &stopped, want)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(channel.sawStop) == 0 {
		t.Fatalf("expected at least one get-headers request")
	}
	for _, got := range channel.sawStop {
		if got != want {
			t.Fatalf("expected stop hash %x on the wire, got %x", want, got)
		}
	}
}

func TestPeerSync_Run_StalledPeerBeforeQueueFullReturnsErrStalled(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	channel := &oneShotChannel{batch: chainHeaders(genesis, 3)}
	var stopped atomic.Bool
	p := NewPeerSync(channel, q, InitialFloor, &stopped, chainhash.Hash{})

	err := p.Run(context.Background())
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled once the peer runs dry below stop height, got %v", err)
	}
	if q.TailHeight() != 3 {
		t.Fatalf("expected the one accepted batch to remain queued, got tail height %d", q.TailHeight())
	}
}

func TestPeerSync_Run_EmptyReplyAtFullQueueIsSuccess(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 3, emptyCheckpoints(t))

	channel := &oneShotChannel{batch: chainHeaders(genesis, 3)}
	var stopped atomic.Bool
	p := NewPeerSync(channel, q, InitialFloor, &stopped, chainhash.Hash{})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("expected success once queue reaches stop height, got %v", err)
	}
}

func TestPeerSync_Run_StoppedFlagShortCircuitsWithErrCancelled(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 10, emptyCheckpoints(t))

	channel := &oneShotChannel{batch: chainHeaders(genesis, 3)}
	var stopped atomic.Bool
	stopped.Store(true)
	p := NewPeerSync(channel, q, InitialFloor, &stopped, chainhash.Hash{})

	if err := p.Run(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled when stopped flag is set before run, got %v", err)
	}
}

func TestPeerSync_Run_RejectsBatchExceedingTerminalBound(t *testing.T) {
	genesis := testGenesis()
	q := initializedQueue(t, genesis, 2, emptyCheckpoints(t))

	channel := &oneShotChannel{batch: chainHeaders(genesis, 5)}
	var stopped atomic.Bool
	p := NewPeerSync(channel, q, InitialFloor, &stopped, chainhash.Hash{})

	err := p.Run(context.Background())
	if !errors.Is(err, ErrTerminalBound) {
		t.Fatalf("expected ErrTerminalBound, got %v", err)
	}
	if !q.Empty() {
		t.Fatalf("expected rejected batch to leave queue empty, got size %d", q.Size())
	}
}
