// Package policy gates execution plans with Rego rules evaluated through
// OPA. Built-in rules cover installation safety invariants; additional
// .rego files can be loaded from disk and are re-evaluated on change in
// watch mode. Error and critical violations block the run, warnings are
// reported and let it proceed.
package policy
