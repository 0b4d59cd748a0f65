package headersync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// InitialFloor is the starting minimum header download rate. It is a
// minimum, not a cap: honest peers commonly exceed it by orders of
// magnitude on early chain history.
const InitialFloor = 10000.0

// BackOffFactor is the load-bearing rate-floor decay applied on every
// observed peer failure. Any value in (0, 1) preserves correctness; a
// value closer to 1 slows recovery after a bad-peer streak.
const BackOffFactor = 0.75

// MinFloor is the floor below which the rate minimum never decays.
const MinFloor = 1.0

// progressLogInterval throttles the session's header-progress log line,
// matching the teacher's own "[sync] progress: %d/%d" cadence in
// p2p/sync.go.
const progressLogInterval = 500

// ResultHandler receives the terminal outcome of a session exactly once.
// err is nil on success, ErrCancelled if stop() preempted completion, or a
// fatal startup error (ErrOperationFailed, ErrNotFound, ErrAlreadyInitialized).
type ResultHandler func(err error)

// Config configures a Session's adaptive rate-admission policy.
type Config struct {
	InitialFloor  float64
	BackOffFactor float64
	MinFloor      float64
	Handshake     HandshakeParams

	// OnPeerMisbehavior, if set, is called synchronously from the
	// orchestration loop whenever a peer's channel is dropped for a
	// reason that implicates its own conduct (invalid header, bad proof
	// of work, checkpoint mismatch, discontinuous height, or a batch
	// past the terminal bound) rather than a transient disconnect or
	// slow rate. authority identifies the peer per Channel.Authority().
	OnPeerMisbehavior func(authority string, err error)
}

// DefaultConfig returns the constants from spec.md 4.D / §6.
func DefaultConfig() Config {
	return Config{
		InitialFloor:  InitialFloor,
		BackOffFactor: BackOffFactor,
		MinFloor:      MinFloor,
		Handshake: HandshakeParams{
			OwnServices:     0, // "none" during header sync
			MinPeerServices: 1, // node-network
			Relay:           false,
		},
	}
}

// Session is the header-sync controller: it determines the sync range,
// spawns peer protocols against the shared queue, applies adaptive
// back-off, and completes when the queue is full.
type Session struct {
	cfg       Config
	connector Connector
	chain     LocalChain
	queue     *HeaderQueue

	mu          sync.Mutex
	started     bool
	floor       float64
	stop        Checkpoint
	handlerOnce sync.Once

	stopped atomic.Bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewSession constructs a session over a shared queue backed by the given
// checkpoint set, connector and local chain.
func NewSession(cfg Config, connector Connector, chain LocalChain, checkpoints *CheckpointSet) *Session {
	return &Session{
		cfg:       cfg,
		connector: connector,
		chain:     chain,
		queue:     NewHeaderQueue(checkpoints),
		floor:     cfg.InitialFloor,
	}
}

// Queue exposes the shared header queue, consumed by the block-body
// download session once this session completes (spec.md §6 "Exposed
// upward").
func (s *Session) Queue() *HeaderQueue {
	return s.queue
}

// Start determines the sync range and, if non-empty, begins peer
// acquisition. handler fires exactly once: immediately with success if the
// range is already empty, or from whichever peer (or stop()) first
// resolves the session. Fails synchronously with ErrAlreadyStarted if
// called twice.
func (s *Session) Start(ctx context.Context, handler ResultHandler) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	rng, err := s.deriveSyncRange()
	if err != nil {
		s.fire(handler, err)
		return nil
	}

	if err := s.queue.Initialize(rng.Seed, rng.Stop); err != nil {
		s.fire(handler, err)
		return nil
	}
	s.stop = rng.Stop

	if rng.Empty() {
		log.Printf("headersync: sync range empty at height %d, nothing to do", rng.Seed.Height)
		s.fire(handler, nil)
		return nil
	}

	log.Printf("headersync: syncing headers %d-%d", rng.Seed.Height+1, rng.Stop.Height)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.orchestrate(runCtx, handler)
	return nil
}

// Stop transitions the session to stopped. Idempotent and non-blocking:
// in-flight peer protocols observe the stop flag at their next suspension
// point and exit with ErrCancelled; the handler is guaranteed to fire
// exactly once (via handlerOnce), with ErrCancelled if no prior success.
func (s *Session) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the orchestration loop has fully exited (used by tests
// and by Daemon.Stop; not part of spec.md's exposed-upward surface).
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) fire(handler ResultHandler, err error) {
	s.handlerOnce.Do(func() {
		if handler != nil {
			handler(err)
		}
	})
}

func (s *Session) currentFloor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floor
}

// backOff lowers the floor multiplicatively unless the queue is already
// full — per spec.md 9's open-question resolution, a peer that fails after
// another peer has already completed the queue should not depress the
// floor for a session that is about to succeed anyway.
func (s *Session) backOff() {
	if s.queue.IsFull() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.floor * s.cfg.BackOffFactor
	if next < s.cfg.MinFloor {
		next = s.cfg.MinFloor
	}
	s.floor = next
}

// orchestrate is the peer-acquisition loop: acquire a channel, attach the
// protocol, on success declare victory, on failure back off and retry.
func (s *Session) orchestrate(ctx context.Context, handler ResultHandler) {
	defer s.wg.Done()

	for {
		if s.stopped.Load() {
			s.fire(handler, ErrCancelled)
			return
		}
		if s.queue.IsFull() {
			s.fire(handler, nil)
			return
		}

		channel, err := s.connector.Connect(ctx)
		if err != nil {
			if s.stopped.Load() || errors.Is(err, context.Canceled) {
				s.fire(handler, ErrCancelled)
				return
			}
			// Connect failure alone never backs off; retry immediately.
			log.Printf("headersync: connect failed: %v", err)
			continue
		}

		peer := NewPeerSync(channel, s.queue, s.currentFloor(), &s.stopped, s.stop.Hash)
		err = peer.Run(ctx)

		switch {
		case err == nil:
			s.fire(handler, nil)
			return
		case errors.Is(err, ErrCancelled):
			s.fire(handler, ErrCancelled)
			return
		default:
			log.Printf("headersync: peer %s dropped: %v", channel.Authority(), err)
			if isMisbehavior(err) && s.cfg.OnPeerMisbehavior != nil {
				s.cfg.OnPeerMisbehavior(channel.Authority(), err)
			}
			s.backOff()
		}
	}
}

// deriveSyncRange implements spec.md 4.D's sync-range derivation exactly:
//  1. query last height L and gap range
//  2. if a gap exists, first = g0-1, last = g1+1; else first = last = L
//  3. stop = highest checkpoint above last, else (if first==last) the
//     single known block, else the header at last
//  4. seed = header at first
func (s *Session) deriveSyncRange() (SyncRange, error) {
	lastHeight, err := s.chain.GetLastHeight()
	if err != nil {
		return SyncRange{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	first := lastHeight
	last := lastHeight
	if g0, g1, ok := s.chain.GetGapRange(); ok {
		first = g0 - 1
		last = g1 + 1
	}

	firstHeader, err := s.chain.GetHeader(first)
	if err != nil {
		return SyncRange{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	seed := Checkpoint{Hash: firstHeader.BlockHash(), Height: first}

	stop, err := s.stopCheckpoint(seed, first, last)
	if err != nil {
		return SyncRange{}, err
	}

	return SyncRange{Seed: seed, Stop: stop}, nil
}

func (s *Session) stopCheckpoint(seed Checkpoint, first, last uint64) (Checkpoint, error) {
	if cpTop, ok := s.queue.checkpoints.Highest(); ok && cpTop.Height > last {
		return cpTop, nil
	}
	if first == last {
		return seed, nil
	}

	lastHeader, err := s.chain.GetHeader(last)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return Checkpoint{Hash: lastHeader.BlockHash(), Height: last}, nil
}

// maybeLogProgress emits a throttled progress line, matching the teacher's
// own periodic sync logging in p2p/sync.go.
func maybeLogProgress(tail, stop uint64) {
	if tail%progressLogInterval == 0 || tail == stop {
		log.Printf("headersync: progress %d/%d", tail, stop)
	}
}
