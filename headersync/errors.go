package headersync

import "errors"

// Domain-level error kinds. Peer-local errors (queue/validation/rate) never
// reach a session's completion handler directly — they feed the session's
// back-off loop and are logged; only ErrCancelled and the Success case are
// ever handed to the handler alongside a terminal chain error.
var (
	// ErrOperationFailed indicates a local chain query failed.
	ErrOperationFailed = errors.New("headersync: local chain operation failed")

	// ErrNotFound indicates a required seed or stop header is missing locally.
	ErrNotFound = errors.New("headersync: required header not found locally")

	// ErrAlreadyInitialized indicates the queue was non-empty at session start.
	ErrAlreadyInitialized = errors.New("headersync: queue already initialized")

	// ErrAlreadyStarted indicates start() was called more than once.
	ErrAlreadyStarted = errors.New("headersync: session already started")

	// ErrDiscontinuousHeight indicates a peer sent a non-contiguous batch.
	ErrDiscontinuousHeight = errors.New("headersync: discontinuous header height")

	// ErrInvalidHeader indicates malformed header fields.
	ErrInvalidHeader = errors.New("headersync: invalid header")

	// ErrCheckpointMismatch indicates a header hash disagrees with a configured checkpoint.
	ErrCheckpointMismatch = errors.New("headersync: checkpoint mismatch")

	// ErrBadProofOfWork indicates a header hash exceeds its stated target, or the
	// stated target is malformed.
	ErrBadProofOfWork = errors.New("headersync: bad proof of work")

	// ErrTerminalBound indicates an enqueue would exceed the sync-range stop height.
	ErrTerminalBound = errors.New("headersync: enqueue exceeds terminal height")

	// ErrEmptyBatch indicates an enqueue call with zero headers.
	ErrEmptyBatch = errors.New("headersync: empty batch")

	// ErrChannelSlow indicates a peer fell below the current rate floor past the
	// grace window.
	ErrChannelSlow = errors.New("headersync: channel below rate floor")

	// ErrStalled indicates a peer replied with zero headers while the queue is
	// not yet full.
	ErrStalled = errors.New("headersync: channel stalled with empty reply")

	// ErrChannelGone indicates the peer's channel disconnected.
	ErrChannelGone = errors.New("headersync: channel disconnected")

	// ErrCancelled indicates the session was stopped externally before completion.
	ErrCancelled = errors.New("headersync: session cancelled")
)

// isMisbehavior reports whether err reflects the remote peer itself
// violating the header-sync protocol (bad data, wrong order, work past
// the agreed terminal bound) as opposed to a transient disconnect or a
// merely-slow, otherwise-honest peer. Session.orchestrate uses this to
// decide whether to report a peer to Config.OnPeerMisbehavior.
func isMisbehavior(err error) bool {
	return errors.Is(err, ErrInvalidHeader) ||
		errors.Is(err, ErrDiscontinuousHeight) ||
		errors.Is(err, ErrBadProofOfWork) ||
		errors.Is(err, ErrCheckpointMismatch) ||
		errors.Is(err, ErrTerminalBound)
}
