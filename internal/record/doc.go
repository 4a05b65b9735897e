// Package record provides the value model for entity payloads written
// through crosstx.
//
// A payload is an Object: a map of string keys to sealed Values (String,
// Int, Bool, List, Object). Floats and nulls are rejected so a payload
// always has exactly one canonical encoding, which is what the stores
// persist and what Digest hashes.
//
// record imports nothing internal; every other package may import it.
package record
