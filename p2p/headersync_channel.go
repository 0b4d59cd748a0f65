package p2p

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"blocknet/headersync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ProtocolHeaderSync is the dedicated stream protocol for the header-sync
// subsystem. It is intentionally separate from ProtocolSync (the teacher's
// own JSON block/body sync protocol): header sync speaks bit-exact Bitcoin
// P2P wire messages (get-headers/headers/version/verack) framed with
// btcd/wire's own message envelope, not the teacher's length-prefixed JSON
// frames.
const ProtocolHeaderSync = "/blocknet/headersync/1.0.0"

// headerSyncNet is a custom Bitcoin-wire magic identifying blocknet's
// header-sync network, distinct from Bitcoin mainnet/testnet so a
// misconfigured peer can never be mistaken for a real Bitcoin node.
const headerSyncNet wire.BitcoinNet = 0xb10c5e17

// minHeadersProtocolVersion is the lowest wire protocol version at which a
// peer is expected to understand getheaders/headers (Bitcoin Core
// introduced headers-first sync at protocol version 31800).
const minHeadersProtocolVersion = 31800

// streamDeadline bounds a single request/response round trip.
const streamDeadline = 30 * time.Second

// HeaderSyncConnector implements headersync.Connector over a libp2p host:
// it opens a fresh outbound stream to a peer picked at random from the
// node's connected, non-banned peers, performs the version handshake, and
// hands back a channel only once the peer has negotiated at least
// minHeadersProtocolVersion.
type HeaderSyncConnector struct {
	node   *Node
	params headersync.HandshakeParams

	// nextPeer selects the next candidate peer to dial (pickPeer by
	// default). It's a func field so a different selection can be
	// substituted without a live libp2p swarm.
	nextPeer func() (peer.ID, error)
}

// NewHeaderSyncConnector builds a connector that dials peers known to node.
func NewHeaderSyncConnector(node *Node, params headersync.HandshakeParams) *HeaderSyncConnector {
	c := &HeaderSyncConnector{node: node, params: params}
	c.nextPeer = c.pickPeer
	return c
}

func (c *HeaderSyncConnector) pickPeer() (peer.ID, error) {
	peers := c.node.Peers()
	if len(peers) == 0 {
		return "", fmt.Errorf("headersync: no connected peers")
	}
	return peers[rand.Intn(len(peers))], nil
}

// Connect opens a new stream to a candidate peer and negotiates the
// version handshake. On any failure it returns an error; the caller
// (headersync.Session) retries with a fresh candidate without back-off.
func (c *HeaderSyncConnector) Connect(ctx context.Context) (headersync.Channel, error) {
	pid, err := c.nextPeer()
	if err != nil {
		return nil, err
	}

	s, err := c.node.host.NewStream(ctx, pid, ProtocolHeaderSync)
	if err != nil {
		return nil, fmt.Errorf("headersync: open stream to %s: %w", pid.String()[:8], err)
	}

	ch := &HeaderChannel{stream: s, peerID: pid}
	if err := ch.handshake(ctx, c.params); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("headersync: handshake with %s: %w", pid.String()[:8], err)
	}

	return ch, nil
}

// HeaderChannel adapts a libp2p network.Stream to headersync.Channel.
type HeaderChannel struct {
	stream  network.Stream
	peerID  peer.ID
	version uint32
}

// Authority identifies the remote peer for logging.
func (c *HeaderChannel) Authority() string {
	return c.peerID.String()
}

// NegotiatedVersion returns the protocol version agreed during handshake.
func (c *HeaderChannel) NegotiatedVersion() uint32 {
	return c.version
}

// Stop closes the underlying stream. Idempotent: libp2p streams tolerate a
// second Close/Reset without panicking.
func (c *HeaderChannel) Stop() error {
	if err := c.stream.Close(); err != nil && !isExpectedStreamCloseError(err) {
		return err
	}
	return nil
}

// handshake performs a version/verack exchange using real Bitcoin wire
// message types (wire.MsgVersion, wire.MsgVerAck), then negotiates down to
// the lower of the two announced protocol versions. It rejects a peer
// below minHeadersProtocolVersion or lacking the required service bits.
func (c *HeaderChannel) handshake(ctx context.Context, params headersync.HandshakeParams) error {
	if err := c.stream.SetDeadline(time.Now().Add(streamDeadline)); err != nil {
		return err
	}

	ownVersion := params.OwnVersion
	if ownVersion == 0 {
		ownVersion = wire.ProtocolVersion
	}

	me := wire.NewNetAddressIPPort(nil, 0, wire.ServiceFlag(params.OwnServices))
	you := wire.NewNetAddressIPPort(nil, 0, wire.ServiceFlag(params.MinPeerServices))
	nonce := uint64(rand.Int63())

	ours := wire.NewMsgVersion(me, you, nonce, 0)
	ours.ProtocolVersion = int32(ownVersion)
	ours.Services = wire.ServiceFlag(params.OwnServices)
	ours.DisableRelayTx = !params.Relay

	if _, err := wire.WriteMessageN(c.stream, ours, ownVersion, headerSyncNet); err != nil {
		return fmt.Errorf("send version: %w", err)
	}

	_, msg, _, err := wire.ReadMessageN(c.stream, ownVersion, headerSyncNet)
	if err != nil {
		return fmt.Errorf("recv version: %w", err)
	}
	theirs, ok := msg.(*wire.MsgVersion)
	if !ok {
		return fmt.Errorf("expected version, got %T", msg)
	}

	if theirs.ProtocolVersion < minHeadersProtocolVersion || theirs.ProtocolVersion < int32(params.MinPeerVersion) {
		return fmt.Errorf("peer protocol version %d below required minimum", theirs.ProtocolVersion)
	}
	if uint64(theirs.Services)&params.MinPeerServices != params.MinPeerServices {
		return fmt.Errorf("peer missing required services (has %d, need %d)", theirs.Services, params.MinPeerServices)
	}

	if _, err := wire.WriteMessageN(c.stream, wire.NewMsgVerAck(), ownVersion, headerSyncNet); err != nil {
		return fmt.Errorf("send verack: %w", err)
	}
	if _, msg, _, err := wire.ReadMessageN(c.stream, ownVersion, headerSyncNet); err != nil {
		return fmt.Errorf("recv verack: %w", err)
	} else if _, ok := msg.(*wire.MsgVerAck); !ok {
		return fmt.Errorf("expected verack, got %T", msg)
	}

	negotiated := ownVersion
	if uint32(theirs.ProtocolVersion) < negotiated {
		negotiated = uint32(theirs.ProtocolVersion)
	}
	c.version = negotiated

	return c.stream.SetDeadline(time.Time{})
}

// SendGetHeaders issues a get-headers request bit-exact with Bitcoin P2P.
func (c *HeaderChannel) SendGetHeaders(ctx context.Context, locator []*chainhash.Hash, stopHash chainhash.Hash) error {
	if err := c.stream.SetWriteDeadline(time.Now().Add(streamDeadline)); err != nil {
		return err
	}

	req := wire.NewMsgGetHeaders()
	req.ProtocolVersion = c.version
	req.HashStop = stopHash
	for _, h := range locator {
		if err := req.AddBlockLocatorHash(h); err != nil {
			return err
		}
	}

	_, err := wire.WriteMessageN(c.stream, req, c.version, headerSyncNet)
	return err
}

// RecvHeaders blocks for the next headers reply.
func (c *HeaderChannel) RecvHeaders(ctx context.Context) ([]*wire.BlockHeader, error) {
	if err := c.stream.SetReadDeadline(time.Now().Add(streamDeadline)); err != nil {
		return nil, err
	}

	_, msg, _, err := wire.ReadMessageN(c.stream, c.version, headerSyncNet)
	if err != nil {
		return nil, err
	}
	headers, ok := msg.(*wire.MsgHeaders)
	if !ok {
		return nil, fmt.Errorf("expected headers, got %T", msg)
	}
	return headers.Headers, nil
}

// handleHeaderSyncStream is the inbound stream handler registered against
// ProtocolHeaderSync: it performs the responder side of the handshake and
// answers get-headers requests from the node's own header store, mirroring
// the teacher's handleGetHeaders in p2p/sync.go but over the bit-exact wire
// protocol instead of JSON.
func (n *Node) handleHeaderSyncStream(getHeaders func(locator []*chainhash.Hash, stopHash chainhash.Hash) ([]*wire.BlockHeader, error)) network.StreamHandler {
	return func(s network.Stream) {
		defer func() {
			if err := s.Close(); err != nil && !isExpectedStreamCloseError(err) {
				log.Printf("failed to close inbound header-sync stream: %v", err)
			}
		}()

		ch := &HeaderChannel{stream: s, peerID: s.Conn().RemotePeer()}
		params := headersync.HandshakeParams{MinPeerServices: 0}
		if err := ch.respondHandshake(params); err != nil {
			return
		}

		for {
			if err := s.SetReadDeadline(time.Now().Add(streamDeadline)); err != nil {
				return
			}
			_, msg, _, err := wire.ReadMessageN(s, ch.version, headerSyncNet)
			if err != nil {
				return
			}
			req, ok := msg.(*wire.MsgGetHeaders)
			if !ok {
				continue
			}

			var locator []*chainhash.Hash
			locator = append(locator, req.BlockLocatorHashes...)

			headers, err := getHeaders(locator, req.HashStop)
			if err != nil {
				return
			}

			reply := wire.NewMsgHeaders()
			for _, h := range headers {
				if err := reply.AddBlockHeader(h); err != nil {
					break
				}
			}
			if err := s.SetWriteDeadline(time.Now().Add(streamDeadline)); err != nil {
				return
			}
			if _, err := wire.WriteMessageN(s, reply, ch.version, headerSyncNet); err != nil {
				return
			}
		}
	}
}

// respondHandshake is the responder side of handshake: read version, reply
// with our own version + verack, read the initiator's verack.
func (c *HeaderChannel) respondHandshake(params headersync.HandshakeParams) error {
	if err := c.stream.SetDeadline(time.Now().Add(streamDeadline)); err != nil {
		return err
	}

	ownVersion := uint32(wire.ProtocolVersion)

	_, msg, _, err := wire.ReadMessageN(c.stream, ownVersion, headerSyncNet)
	if err != nil {
		return err
	}
	theirs, ok := msg.(*wire.MsgVersion)
	if !ok {
		return fmt.Errorf("expected version, got %T", msg)
	}
	if theirs.ProtocolVersion < minHeadersProtocolVersion {
		return fmt.Errorf("peer protocol version %d below required minimum", theirs.ProtocolVersion)
	}

	me := wire.NewNetAddressIPPort(nil, 0, wire.ServiceFlag(params.OwnServices))
	you := wire.NewNetAddressIPPort(nil, 0, 0)
	ours := wire.NewMsgVersion(me, you, uint64(rand.Int63()), 0)
	ours.ProtocolVersion = int32(ownVersion)
	ours.Services = wire.ServiceFlag(params.OwnServices)
	ours.DisableRelayTx = true

	if _, err := wire.WriteMessageN(c.stream, ours, ownVersion, headerSyncNet); err != nil {
		return err
	}
	if _, err := wire.WriteMessageN(c.stream, wire.NewMsgVerAck(), ownVersion, headerSyncNet); err != nil {
		return err
	}
	if _, msg, _, err := wire.ReadMessageN(c.stream, ownVersion, headerSyncNet); err != nil {
		return err
	} else if _, ok := msg.(*wire.MsgVerAck); !ok {
		return fmt.Errorf("expected verack, got %T", msg)
	}

	negotiated := ownVersion
	if uint32(theirs.ProtocolVersion) < negotiated {
		negotiated = uint32(theirs.ProtocolVersion)
	}
	c.version = negotiated
	return c.stream.SetDeadline(time.Time{})
}
