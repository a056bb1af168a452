// Package supervisor launches and supervises one producer/consumer process
// pair: a tail process streaming a log file live into the stdin of a viewer
// process that serves HTTP on a given port.
//
// A launch runs a small state machine:
//
//	Starting ─┬─ ready line on stdout ──────────────► Ready
//	          ├─ conflict line on stderr ───────────► Conflict
//	          ├─ spawn failure / unexplained exit ──► Errored
//	          └─ no signal before the deadline ─────► TimedOut
//
// Only the terminal outcome leaves the package, as a model.LaunchAttempt.
// On every outcome other than Ready both process groups are terminated and
// reaped before LaunchPair returns. On Ready the caller receives a *Pair and
// becomes responsible for stopping it.
package supervisor
