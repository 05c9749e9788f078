// Package rollback maintains the durable, append-only ledger of
// compensating actions that lets a partially provisioned host be unwound.
//
// An action is recorded before the corresponding real-world effect is
// attempted, so a crash mid-effect still leaves a truthful (possibly
// over-cautious) undo record. Actions are immutable once recorded and are
// replayed in reverse sequence order; successfully replayed actions are
// marked consumed in the store so a second replay after a crash does not
// repeat them.
package rollback
