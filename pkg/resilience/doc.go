// Package resilience guards flaky network operations (package mirrors, git
// clones, downloads) with a per-service circuit breaker and a bounded
// exponential-backoff retry executor.
//
// Each external dependency is identified by a service name (for example
// "package-mirror" or "github"). Breaker state is shared across every module
// that routes an operation through the same service name, so repeated mirror
// failures in one module fast-fail the mirror for all of them. An exhausted
// retry sequence counts as a single breaker failure event; individual
// attempt failures inside the sequence do not trip the breaker on their own.
package resilience
