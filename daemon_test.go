package main

import (
	"testing"
)

func TestNewDaemon_SeedsGenesisAndReportsStats(t *testing.T) {
	cfg := DefaultDaemonConfig()
	cfg.DataDir = t.TempDir()
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.SeedNodes = nil

	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})

	last, err := d.HeaderStore().GetLastHeight()
	if err != nil {
		t.Fatalf("GetLastHeight: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected genesis-only header store at height 0, got %d", last)
	}

	stats := d.Stats()
	if stats.PeerID == "" {
		t.Fatalf("expected a non-empty peer ID")
	}
	if stats.HeaderHeight != 0 {
		t.Fatalf("expected header height 0 before sync, got %d", stats.HeaderHeight)
	}
	if stats.BannedPeers != 0 {
		t.Fatalf("expected no banned peers on a fresh daemon, got %d", stats.BannedPeers)
	}
}

func TestDefaultDaemonConfig_HasSeedNodesAndDataDir(t *testing.T) {
	cfg := DefaultDaemonConfig()
	if cfg.DataDir != DefaultDataDir {
		t.Fatalf("expected default data dir %q, got %q", DefaultDataDir, cfg.DataDir)
	}
	if len(cfg.SeedNodes) == 0 {
		t.Fatalf("expected default seed nodes to be non-empty")
	}
}
