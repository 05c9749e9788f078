// Package engine is the installation orchestration core: it orders modules
// into dependency batches and executes them with partial-failure isolation,
// crash-resumable checkpoints and ledger-driven rollback.
//
// The Scheduler validates the module dependency graph (unknown references
// and cycles are fatal before any side effect) and emits strictly
// sequential batches. The HybridExecutor runs each batch either on a
// bounded worker pool or, for forced-sequential and high-cost modules, as a
// dedicated sequential pipeline; the batch is a synchronization barrier.
// Modules never wait on each other directly — all cross-module ordering is
// expressed through batches, which rules out deadlock by construction.
package engine
