// Package entity defines the closed set of entity kinds crosstx persists
// and the schemas their payloads must satisfy.
//
// Adding a kind means adding a constant here, a definition in schema.cue,
// and a case in the transaction handler table; the handler table refuses
// to build while any kind is unbound.
package entity

import (
	"fmt"

	"github.com/roach88/crosstx/internal/record"
)

// Kind identifies an entity kind.
type Kind string

const (
	// UsageRecord is one metered usage event (tokens consumed by a request).
	UsageRecord Kind = "usage_record"

	// UserStats is the running per-user aggregate of usage. Cumulative.
	UserStats Kind = "user_stats"

	// Conversation is a persisted chat conversation.
	Conversation Kind = "conversation"
)

// IDField is the payload field every kind uses as its identifier.
const IDField = "id"

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{UsageRecord, UserStats, Conversation}
}

// Parse converts a string into a known Kind.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case UsageRecord, UserStats, Conversation:
		return true
	default:
		return false
	}
}

// Cumulative reports whether writes to k overwrite a running aggregate.
// Compensating such a write must restore the previous state rather than
// delete the record.
func (k Kind) Cumulative() bool {
	return k == UserStats
}

func (k Kind) String() string {
	return string(k)
}

// definition returns the CUE definition name holding the schema for k.
func (k Kind) definition() string {
	switch k {
	case UsageRecord:
		return "#UsageRecord"
	case UserStats:
		return "#UserStats"
	case Conversation:
		return "#Conversation"
	default:
		return ""
	}
}

// IDOf returns the identifier of a payload.
func IDOf(obj record.Object) (string, bool) {
	id, ok := obj.GetString(IDField)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
