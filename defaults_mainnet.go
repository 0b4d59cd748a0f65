package main

// Relaunch defaults.
//
// Keep these centralized so main/daemon/headerstore stay consistent.
const (
	DefaultDataDir = "./blocknet-headersync-data"
)

