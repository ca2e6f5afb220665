// Package merge combines an incoming partial configuration document into
// the current one. Mapping keys are merged recursively, arrays according
// to a configurable strategy, and every value disagreement is recorded as
// a conflict together with the resolution that was applied. Neither input
// document is mutated.
package merge
