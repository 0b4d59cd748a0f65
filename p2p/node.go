package p2p

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
)

// NodeConfig configures the P2P node
type NodeConfig struct {
	// ListenAddrs are the multiaddrs to listen on
	// Default: ["/ip4/0.0.0.0/tcp/0", "/ip6/::/tcp/0"]
	ListenAddrs []string

	// SeedNodes are bootstrap peers dialed once at Start
	SeedNodes []string

	// MaxInbound is the maximum number of inbound connections
	MaxInbound int

	// MaxOutbound is the maximum number of outbound connections
	MaxOutbound int

	// IdentityConfig for peer ID management
	Identity IdentityConfig

	// UserAgent is announced to peers
	UserAgent string
}

// DefaultNodeConfig returns sensible defaults
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ListenAddrs: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip6/::/tcp/0",
		},
		SeedNodes:   []string{},
		MaxInbound:  64,
		MaxOutbound: 16,
		Identity:    DefaultIdentityConfig(),
		UserAgent:   "blocknet-headersync",
	}
}

// Node represents a P2P node dedicated to the header-sync protocol. Unlike
// the teacher's node, it carries no block/tx gossip or PEX reputation
// system: its only purpose is dialing peers and exchanging the
// get-headers/headers/version/verack messages headersync_channel.go
// speaks, plus banning peers that misbehave on that one protocol.
type Node struct {
	mu sync.RWMutex

	host     host.Host
	identity *IdentityManager
	config   NodeConfig

	banned map[peer.ID]string

	// Pending identity after rotation (applied on restart)
	pendingKey crypto.PrivKey
	pendingID  peer.ID

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	stopFuncs []func()
}

// IsBanned reports whether pid has been banned for header-sync misbehavior.
func (n *Node) IsBanned(pid peer.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, banned := n.banned[pid]
	return banned
}

// BanPeer bans a peer, closing any live connection to it. Called by the
// daemon when a header-sync channel reports a protocol violation
// (invalid header, bad proof of work, checkpoint mismatch) severe enough
// that the peer should never be dialed or accepted again this run.
func (n *Node) BanPeer(pid peer.ID, reason string) {
	n.mu.Lock()
	if n.banned == nil {
		n.banned = make(map[peer.ID]string)
	}
	n.banned[pid] = reason
	n.mu.Unlock()

	log.Printf("banned peer %s: %s", pid.String()[:8], reason)
	if n.host != nil {
		_ = n.host.Network().ClosePeer(pid)
	}
}

// GetBannedPeers returns the currently banned peer IDs.
func (n *Node) GetBannedPeers() []peer.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]peer.ID, 0, len(n.banned))
	for pid := range n.banned {
		out = append(out, pid)
	}
	return out
}

// BannedCount returns the number of banned peers.
func (n *Node) BannedCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.banned)
}

// NewNode creates a new P2P node and starts listening.
func NewNode(cfg NodeConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	identity, err := NewIdentityManager(cfg.Identity)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	privKey, _ := identity.CurrentIdentity()

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	connMgr, err := connmgr.NewConnManager(
		cfg.MaxOutbound,                // low water
		cfg.MaxInbound+cfg.MaxOutbound, // high water
		connmgr.WithGracePeriod(time.Minute),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	node := &Node{
		identity: identity,
		config:   cfg,
		banned:   make(map[peer.ID]string),
		ctx:      ctx,
		cancel:   cancel,
	}

	banGater := NewBanGater(node.IsBanned)

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(connMgr),
		libp2p.ConnectionGater(banGater),
		libp2p.UserAgent(cfg.UserAgent),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.DisableRelay(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	node.host = h

	identity.SetRotationCallback(func(newKey crypto.PrivKey, newID peer.ID) {
		log.Printf("Identity rotated to: %s", newID.String()[:16])
		node.mu.Lock()
		node.pendingKey = newKey
		node.pendingID = newID
		node.mu.Unlock()
	})

	node.stopFuncs = append(node.stopFuncs, identity.StartRotationLoop())

	return node, nil
}

// RegisterHeaderSyncHandler wires the inbound header-sync stream handler
// (ProtocolHeaderSync) against a callback that answers get-headers
// requests from the local header store. Called once the header store is
// ready; before that, inbound header-sync streams go unhandled (libp2p
// simply resets them).
func (n *Node) RegisterHeaderSyncHandler(getHeaders func(locator []*chainhash.Hash, stopHash chainhash.Hash) ([]*wire.BlockHeader, error)) {
	n.host.SetStreamHandler(ProtocolHeaderSync, n.handleHeaderSyncStream(getHeaders))
}

// Start dials the configured seed nodes. Failures are logged, not fatal:
// the header-sync connector discovers peers as connections succeed and
// simply retries when none are available yet.
func (n *Node) Start() error {
	for _, addr := range n.config.SeedNodes {
		go n.dialSeed(addr)
	}
	return nil
}

func (n *Node) dialSeed(addr string) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		log.Printf("invalid seed address %s: %v", addr, err)
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		log.Printf("invalid seed peer address %s: %v", addr, err)
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *info); err != nil {
		log.Printf("failed to connect to seed %s: %v", addr, err)
	}
}

// Stop gracefully shuts down the node
func (n *Node) Stop() error {
	n.cancel()

	for _, stop := range n.stopFuncs {
		stop()
	}

	return n.host.Close()
}

// Host returns the underlying libp2p host
func (n *Node) Host() host.Host {
	return n.host
}

// PeerID returns the current peer ID
func (n *Node) PeerID() peer.ID {
	return n.identity.CurrentPeerID()
}

// Addrs returns the listen addresses
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// Peers returns connected, non-banned peer IDs — the candidate pool the
// header-sync connector dials into.
func (n *Node) Peers() []peer.ID {
	all := n.host.Network().Peers()
	out := make([]peer.ID, 0, len(all))
	for _, pid := range all {
		if !n.IsBanned(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// Connect attempts to connect to a peer
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// IdentityAge returns how long the current identity has been active
func (n *Node) IdentityAge() time.Duration {
	return n.identity.Age()
}

// RotateIdentity forces an identity rotation
// Note: This requires restarting connections
func (n *Node) RotateIdentity() (peer.ID, error) {
	return n.identity.Rotate()
}

// FullMultiaddrs returns the complete multiaddrs including peer ID
// These are the addresses other nodes need to connect to this node
func (n *Node) FullMultiaddrs() []string {
	pid := n.PeerID()
	addrs := n.Addrs()

	full := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		s := addr.String()
		// Skip localhost addresses for external sharing
		if strings.HasPrefix(s, "/ip4/127.") || strings.HasPrefix(s, "/ip6/::1") {
			continue
		}
		full = append(full, fmt.Sprintf("%s/p2p/%s", s, pid.String()))
	}
	return full
}

// WritePeerFile writes the node's multiaddrs to peer.txt for sharing
func (n *Node) WritePeerFile(filename string) error {
	addrs := n.FullMultiaddrs()
	if len(addrs) == 0 {
		return fmt.Errorf("no external addresses available")
	}

	content := ""
	for _, addr := range addrs {
		content += addr + "\n"
	}

	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return err
	}

	log.Printf("Wrote peer addresses to %s", filename)
	return nil
}
