package headersync

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Connector is consumed from the networking layer: it opens an outbound
// connection and performs version-handshake negotiation, returning a
// Channel only once the peer has negotiated at least the headers-message
// protocol version. Connect may fail (peer unreachable, handshake
// rejected); session.go retries immediately on failure with no back-off,
// per spec.md 4.D.
type Connector interface {
	Connect(ctx context.Context) (Channel, error)
}

// Channel is consumed from the networking layer. It corresponds to
// spec.md §6's channel.authority()/negotiated_version()/stop()/send()/
// subscribe(), specialized to the two header-sync messages this protocol
// ever exchanges: get-headers out, headers in. A generic send/subscribe
// pair would force every caller to type-switch wire.Message; this shape
// is the same contract with that switch done once, at the transport
// adapter (p2p.HeaderChannel), not in the protocol state machine.
type Channel interface {
	// Authority identifies the remote peer (address or peer ID) for logging.
	Authority() string

	// NegotiatedVersion is the protocol version agreed during handshake.
	NegotiatedVersion() uint32

	// Stop closes the channel. Idempotent.
	Stop() error

	// SendGetHeaders issues a get-headers request with the given locator
	// and stop hash, bit-exact with Bitcoin P2P (spec.md §6).
	SendGetHeaders(ctx context.Context, locator []*chainhash.Hash, stopHash chainhash.Hash) error

	// RecvHeaders blocks for the next headers reply (or ctx/timeout/
	// disconnect). An empty, non-error slice is a valid reply meaning the
	// peer has nothing further to offer.
	RecvHeaders(ctx context.Context) ([]*wire.BlockHeader, error)
}

// HandshakeParams parameterizes the version-handshake attachment point
// (spec.md §6): own protocol version, own services bitmask (none, during
// header sync), the peer's minimum acceptable version (headers-message
// level) and minimum required services (node-network), and the relay flag
// (false — we do not accept transaction relay while syncing).
type HandshakeParams struct {
	OwnVersion      uint32
	OwnServices     uint64
	MinPeerVersion  uint32
	MinPeerServices uint64
	Relay           bool
}
