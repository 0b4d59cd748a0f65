package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"blocknet/headersync"
	"blocknet/p2p"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Daemon runs the header-sync subsystem end to end: a libp2p node dialing
// peers, a persisted local header chain, and the headersync.Session that
// drives the two against each other. It owns nothing else — no mempool, no
// miner, no wallet — because header sync is the entirety of what this
// program does.
type Daemon struct {
	mu sync.RWMutex

	node        *p2p.Node
	headerStore *HeaderStore
	headerSync  *headersync.Session

	ctx    context.Context
	cancel context.CancelFunc
}

// DaemonConfig configures the daemon
type DaemonConfig struct {
	// P2P settings
	ListenAddrs []string
	SeedNodes   []string

	// Data directory
	DataDir string
}

// DefaultSeedNodes are the hardcoded bootstrap nodes
var DefaultSeedNodes = []string{
	"/ip4/46.62.203.242/tcp/28080/p2p/12D3KooWB4FY5fLRpwMsYXoVSYb3hWmiDCSJLysVSX3Z38mnkpX6",
	"/ip4/46.62.243.192/tcp/28080/p2p/12D3KooWSc7bV4H7V8pUeKphJ9G2c67rLbiHUuzYj3HHV5Wtf3NS",
	"/ip4/46.62.252.254/tcp/28080/p2p/12D3KooWHXC9xcREsVpcukZdqXyL83k2vKrdNdfsBpuZ7P9Hpmqd",
	"/ip4/46.62.202.165/tcp/28080/p2p/12D3KooWPaMpej16rnr8CC1ALydc4ECkDmwzAcNddS2XDRV8JYNr",
	"/ip4/46.62.249.240/tcp/28080/p2p/12D3KooWSC4Gezy61GViYAAAMrz4Vv2id4YFsUtFR4qZrb5QtL6F",
	"/ip4/46.62.201.220/tcp/28080/p2p/12D3KooWPjygAsXysJgr4kdmHGdUmwwPX6jbrdszGBhjRZv2g5w8",
}

// DefaultDaemonConfig returns sensible defaults
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/28080"},
		SeedNodes:   DefaultSeedNodes,
		DataDir:     DefaultDataDir,
	}
}

// NewDaemon creates a header-sync daemon: a P2P node, a persisted header
// store seeded with the fixed genesis header, and a headersync.Session
// wired to both.
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	nodeCfg := p2p.DefaultNodeConfig()
	nodeCfg.ListenAddrs = cfg.ListenAddrs
	nodeCfg.SeedNodes = cfg.SeedNodes
	nodeCfg.UserAgent = "blocknet-headersync/" + Version

	node, err := p2p.NewNode(nodeCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create P2P node: %w", err)
	}

	headerStore, err := NewHeaderStore(cfg.DataDir)
	if err != nil {
		_ = node.Stop()
		cancel()
		return nil, fmt.Errorf("failed to create header store: %w", err)
	}
	if err := SeedHeaderSyncGenesis(headerStore); err != nil {
		_ = headerStore.Close()
		_ = node.Stop()
		cancel()
		return nil, fmt.Errorf("failed to seed header-sync genesis: %w", err)
	}

	checkpoints, err := loadHeaderSyncCheckpointSet(cfg.DataDir)
	if err != nil {
		_ = headerStore.Close()
		_ = node.Stop()
		cancel()
		return nil, fmt.Errorf("failed to load header-sync checkpoints: %w", err)
	}

	hsCfg := headersync.DefaultConfig()
	hsCfg.OnPeerMisbehavior = func(authority string, err error) {
		pid, decodeErr := peer.Decode(authority)
		if decodeErr != nil {
			return
		}
		node.BanPeer(pid, err.Error())
	}
	headerSync := headersync.NewSession(hsCfg, p2p.NewHeaderSyncConnector(node, hsCfg.Handshake), headerStore, checkpoints)
	node.RegisterHeaderSyncHandler(func(locator []*chainhash.Hash, stopHash chainhash.Hash) ([]*wire.BlockHeader, error) {
		return resolveHeaderSyncLocator(headerStore, locator, stopHash)
	})

	d := &Daemon{
		node:        node,
		headerStore: headerStore,
		headerSync:  headerSync,
		ctx:         ctx,
		cancel:      cancel,
	}

	return d, nil
}

// Start begins daemon operations: the P2P node dials its configured seeds,
// and the header-sync session begins acquiring peers immediately. The
// session's own retry/back-off loop (headersync.Session.orchestrate) means
// Start does not need to wait for a peer before returning.
func (d *Daemon) Start() error {
	if err := d.node.Start(); err != nil {
		return fmt.Errorf("failed to start P2P: %w", err)
	}

	if err := d.headerSync.Start(d.ctx, d.onHeaderSyncResult); err != nil {
		log.Printf("headersync: failed to start: %v", err)
	}

	log.Printf("Daemon started")
	log.Printf("  Peer ID: %s", d.node.PeerID())
	log.Printf("  Listening: %v", d.node.Addrs())

	return nil
}

// onHeaderSyncResult is the session's ResultHandler: it fires exactly once
// with the terminal outcome. Per-peer misbehavior (bad headers, checkpoint
// mismatches) is handled as it happens via Config.OnPeerMisbehavior, not
// here — this only ever sees success, cancellation, or a fatal local
// chain error (ErrOperationFailed / ErrNotFound / ErrAlreadyInitialized).
func (d *Daemon) onHeaderSyncResult(err error) {
	if err == nil {
		log.Printf("headersync: caught up to tip at height %d", d.headerSync.Queue().TailHeight())
		return
	}
	if errors.Is(err, headersync.ErrCancelled) {
		log.Printf("headersync: session stopped")
		return
	}
	log.Printf("headersync: session ended: %v", err)
}

// Stop gracefully shuts down the daemon
func (d *Daemon) Stop() error {
	log.Println("Shutting down daemon...")

	d.cancel()
	d.headerSync.Stop()
	d.headerSync.Wait()

	if err := d.node.Stop(); err != nil {
		return err
	}
	if err := d.headerStore.Close(); err != nil {
		return err
	}

	log.Println("Daemon stopped")
	return nil
}

// DaemonStats reports current daemon status.
type DaemonStats struct {
	PeerID       string `json:"peer_id"`
	Peers        int    `json:"peers"`
	HeaderHeight uint64 `json:"header_height"`
	BannedPeers  int    `json:"banned_peers"`
	IdentityAge  string `json:"identity_age"`
}

func (d *Daemon) Stats() DaemonStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DaemonStats{
		PeerID:       d.node.PeerID().String(),
		Peers:        len(d.node.Peers()),
		HeaderHeight: d.headerSync.Queue().TailHeight(),
		BannedPeers:  d.node.BannedCount(),
		IdentityAge:  d.node.IdentityAge().Round(time.Second).String(),
	}
}

// Node returns the underlying P2P node.
func (d *Daemon) Node() *p2p.Node { return d.node }

// HeaderStore returns the underlying persisted header chain.
func (d *Daemon) HeaderStore() *HeaderStore { return d.headerStore }

// HeaderSync returns the header-sync session, e.g. for a future
// block-body download session to consume via Queue() (spec.md §6
// "Exposed upward").
func (d *Daemon) HeaderSync() *headersync.Session { return d.headerSync }
