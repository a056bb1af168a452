// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// Domain errors do not survive net/rpc as values, so every response carries
// an optional ErrorInfo that the client turns back into a *model.CLIError
// with the original kind, exit code and attempted ports.
package ipc
