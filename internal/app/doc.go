// Package app wires configuration, logging, the cache and the contract
// loader into the chaincache command tree.
//
// Every command opens the cache, runs, and closes it again, so commands can
// be composed from shell scripts without a long-running process. The one
// exception is "sweep --watch", which keeps the sweeper running until the
// context is cancelled.
package app
