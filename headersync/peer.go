package headersync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// peerState names the states of the per-channel state machine described in
// spec.md 4.C. It records where the loop currently is; nothing reads it to
// decide control flow, which is a single loop in PeerSync.Run, the "linear sequence with
// await-style suspension" alternative spec.md 9 allows in place of an
// explicit state-transition table.
type peerState int

const (
	stateIdle peerState = iota
	stateRequesting
	stateValidating
	stateComplete
	stateTerminal
)

func (s peerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRequesting:
		return "requesting"
	case stateValidating:
		return "validating"
	case stateComplete:
		return "complete"
	case stateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// PeerSync drives get-headers/headers exchanges against a single channel,
// appending accepted batches to the shared queue and sampling throughput.
// One PeerSync exists per attached channel; its handler invocations are
// serialized (the channel's dedicated strand, per spec.md §5), but many
// PeerSyncs run concurrently across peers.
type PeerSync struct {
	channel  Channel
	queue    *HeaderQueue
	rate     *RateTracker
	floor    float64 // snapshot at attach time; read-only for the lifetime of this peer
	stopped  *atomic.Bool
	stopHash chainhash.Hash

	state peerState
}

// NewPeerSync attaches a header-sync protocol to channel, with the session's
// rate floor observed as a snapshot (spec.md: "peers observe a snapshot at
// attach time"). stopHash is the session's derived sync-range stop
// checkpoint hash, wired verbatim into every get-headers request this peer
// issues (spec.md §6's stop-hash field).
func NewPeerSync(channel Channel, queue *HeaderQueue, floor float64, stopped *atomic.Bool, stopHash chainhash.Hash) *PeerSync {
	return &PeerSync{
		channel:  channel,
		queue:    queue,
		rate:     NewRateTracker(time.Now()),
		floor:    floor,
		stopped:  stopped,
		stopHash: stopHash,
		state:    stateIdle,
	}
}

// Run drives the protocol to completion: it returns nil on success (the
// queue reached its stop height via this peer), ErrCancelled if the session
// was stopped, or one of the peer-local errors (ErrChannelSlow, ErrStalled,
// ErrChannelGone, ErrDiscontinuousHeight, ErrInvalidHeader,
// ErrCheckpointMismatch, ErrBadProofOfWork, ErrTerminalBound) on peer failure.
func (p *PeerSync) Run(ctx context.Context) error {
	p.state = stateRequesting

	for {
		if p.stopped.Load() {
			p.state = stateTerminal
			_ = p.channel.Stop()
			return ErrCancelled
		}

		if p.queue.IsFull() {
			p.state = stateComplete
			return nil
		}

		locatorHash, _ := p.queue.TailHash()
		stopHash := p.stopHashFor()

		if err := p.channel.SendGetHeaders(ctx, []*chainhash.Hash{&locatorHash}, stopHash); err != nil {
			p.state = stateTerminal
			return p.classifyChannelError(err)
		}

		p.state = stateValidating
		headers, err := p.channel.RecvHeaders(ctx)
		if err != nil {
			p.state = stateTerminal
			return p.classifyChannelError(err)
		}

		if len(headers) == 0 {
			if p.queue.IsFull() {
				p.state = stateComplete
				return nil
			}
			p.state = stateTerminal
			_ = p.channel.Stop()
			return ErrStalled
		}

		if err := p.queue.Enqueue(headers); err != nil {
			p.state = stateTerminal
			_ = p.channel.Stop()
			return err
		}

		maybeLogProgress(p.queue.TailHeight(), p.queue.StopHeight())

		p.rate.Sample(time.Now(), len(headers))
		if p.rate.BelowFloor(time.Now(), p.floor) {
			p.state = stateTerminal
			_ = p.channel.Stop()
			return ErrChannelSlow
		}

		if p.queue.IsFull() {
			p.state = stateComplete
			return nil
		}

		p.state = stateRequesting
	}
}

// stopHashFor returns the sync-range stop hash carried by this peer since
// attach time. It's advisory on the wire (an honest peer may use it to
// short-circuit its own scan); our own enqueue validation is authoritative
// regardless of what a peer sends, so a zero value here (possible only when
// NewPeerSync is handed one directly; Session always passes the hash of the
// stop it derived) would still be safe.
func (p *PeerSync) stopHashFor() chainhash.Hash {
	return p.stopHash
}

func (p *PeerSync) classifyChannelError(err error) error {
	if p.stopped.Load() {
		return ErrCancelled
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrChannelGone
	}
	log.Printf("headersync: peer %s channel error: %v", p.channel.Authority(), err)
	return fmt.Errorf("%w: %v", ErrChannelGone, err)
}
