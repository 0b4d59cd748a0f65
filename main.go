package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const Version = "0.2.0"

func main() {
	dataDir := flag.String("data", DefaultDataDir, "Data directory")
	listen := flag.String("listen", "/ip4/0.0.0.0/tcp/28080", "P2P listen address")
	daemonMode := flag.Bool("daemon", false, "Run headless (no interactive shell)")
	flag.Parse()
	_ = daemonMode

	seedNodes := DefaultSeedNodes
	if len(flag.Args()) > 0 {
		seedNodes = append(seedNodes, flag.Args()...)
	}

	cfg := DefaultDaemonConfig()
	cfg.DataDir = *dataDir
	cfg.ListenAddrs = []string{*listen}
	cfg.SeedNodes = seedNodes

	d, err := NewDaemon(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := d.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
