// Package daemon hosts the long-running logdy-runner process.
//
// The daemon owns one runner.Runner for its lifetime and exposes it to the
// CLI over the ipc package. A flock-based lock file keeps a second daemon
// from starting on the same socket. The daemon also serves Prometheus
// metrics when configured and reloads base settings when the user config
// file changes. On shutdown every running viewer is stopped.
package daemon
