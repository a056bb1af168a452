// Package port implements port scanning and sequential allocation for the
// logdy-runner CLI.
//
// The allocation strategy is a linear walk over the configured range:
//
//	for port := range.Start; port <= range.End && attempts < maxAttempts; port++
//
// Each candidate is first checked with a throwaway net.Listen bind. Busy
// ports are skipped without spawning anything; free ports are handed to a
// launch function whose outcome (success, port conflict, process error,
// timeout) decides whether the walk stops, advances, or aborts.
package port
