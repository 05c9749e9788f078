// Package modules contains the built-in provisioning modules and the
// compile-time registry that maps configuration names to constructors.
// Every module follows the validate/configure/verify lifecycle and records
// a compensating ledger action before each host mutation.
package modules
