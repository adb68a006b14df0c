// Package ddex implements a bidirectional codec for DDEX ERN (Electronic
// Release Notification) messages: a Parser that ingests ERN XML (3.8.2, 4.2,
// 4.3) into a reference-preserving graph model and a flattened developer
// view, and a Builder that emits deterministic, DB-C14N/1.0-canonicalized XML
// from that model.
//
// The guarantee that ties the two halves together is round-trip equivalence
// under canonicalization: parsing the output of a build, then building it
// again, reproduces the same canonical bytes. See canon_c14n.go for the
// canonicalization profile and canon_id.go for the content-addressable ID
// scheme that keeps identity stable across that round trip.
package ddex
