// Package hashing computes the canonical content hashes that make submission
// idempotent.
//
// Specifications, keyword sets, molecules, and records are identified by a
// sha256 hash over a semantically-normalized JSON rendering: sorted and
// case-folded keys, floats rounded to a fixed precision. The storage layer
// pairs these hashes with unique constraints so two logically identical
// inputs always resolve to the same stored row.
package hashing
