// Package usage records metered model usage through the transaction manager.
//
// Each event writes a usage_record and the user's running user_stats
// aggregate in one transaction, so a failure leaves neither behind.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
	"github.com/roach88/crosstx/internal/txn"
)

// Reader reads current records. The primary store satisfies it.
type Reader interface {
	Get(ctx context.Context, kind entity.Kind, id string) (record.Object, bool, error)
}

// Event is one metered request.
type Event struct {
	ID               string
	UserID           string
	Model            string
	ConversationID   string
	PromptTokens     int64
	CompletionTokens int64
	// Tokens is the billed total. Zero means prompt plus completion.
	Tokens int64
	At     time.Time
}

// Stats is a user's aggregate after an event.
type Stats struct {
	UserID       string `json:"user_id"`
	TotalTokens  int64  `json:"total_tokens"`
	RequestCount int64  `json:"request_count"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Conversation is a chat transcript to persist.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// Tracker records usage events.
type Tracker struct {
	m     *txn.Manager
	stats Reader
	now   func() time.Time
	newID func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the timestamp source for events without one.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithIDs overrides event ID generation for events without one.
func WithIDs(newID func() string) Option {
	return func(t *Tracker) {
		t.newID = newID
	}
}

// NewTracker creates a Tracker writing through m and reading aggregates
// from stats.
func NewTracker(m *txn.Manager, stats Reader, opts ...Option) *Tracker {
	t := &Tracker{
		m:     m,
		stats: stats,
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record saves ev and the updated aggregate for its user.
func (t *Tracker) Record(ctx context.Context, ev Event) (Stats, error) {
	var stats Stats
	err := t.m.Run(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		var err error
		stats, err = t.recordIn(ctx, tx, ev)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// SaveConversation saves conv and, when ev is not nil, the usage it
// incurred, all in one transaction.
func (t *Tracker) SaveConversation(ctx context.Context, conv Conversation, ev *Event) (*Stats, error) {
	var stats *Stats
	err := t.m.Run(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		if err := tx.Save(ctx, entity.Conversation, t.conversationRecord(conv)); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		e := *ev
		if e.ConversationID == "" {
			e.ConversationID = conv.ID
		}
		if e.UserID == "" {
			e.UserID = conv.UserID
		}
		s, err := t.recordIn(ctx, tx, e)
		if err != nil {
			return err
		}
		stats = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (t *Tracker) recordIn(ctx context.Context, tx *txn.Transaction, ev Event) (Stats, error) {
	if ev.UserID == "" {
		return Stats{}, errors.New("usage event has no user")
	}
	if ev.ID == "" {
		ev.ID = t.newID()
	}
	if ev.At.IsZero() {
		ev.At = t.now()
	}
	if ev.Tokens == 0 {
		ev.Tokens = ev.PromptTokens + ev.CompletionTokens
	}

	if err := tx.Save(ctx, entity.UsageRecord, usageRecord(ev)); err != nil {
		return Stats{}, err
	}

	prev, err := t.current(ctx, ev.UserID)
	if err != nil {
		return Stats{}, err
	}
	next := Stats{
		UserID:       ev.UserID,
		TotalTokens:  prev.TotalTokens + ev.Tokens,
		RequestCount: prev.RequestCount + 1,
	}
	if err := tx.Save(ctx, entity.UserStats, statsRecord(next, ev.At)); err != nil {
		return Stats{}, err
	}
	return next, nil
}

// current returns the stored aggregate, or a zero one for a new user.
func (t *Tracker) current(ctx context.Context, userID string) (Stats, error) {
	obj, found, err := t.stats.Get(ctx, entity.UserStats, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats for %s: %w", userID, err)
	}
	s := Stats{UserID: userID}
	if !found {
		return s, nil
	}
	s.TotalTokens, _ = obj.GetInt("total_tokens")
	s.RequestCount, _ = obj.GetInt("request_count")
	return s, nil
}

func usageRecord(ev Event) record.Object {
	obj := record.NewObject(
		record.F{Key: "id", Value: record.String(ev.ID)},
		record.F{Key: "user_id", Value: record.String(ev.UserID)},
		record.F{Key: "tokens", Value: record.Int(ev.Tokens)},
		record.F{Key: "created_at", Value: record.String(ev.At.UTC().Format(time.RFC3339Nano))},
	)
	if ev.PromptTokens > 0 {
		obj["prompt_tokens"] = record.Int(ev.PromptTokens)
	}
	if ev.CompletionTokens > 0 {
		obj["completion_tokens"] = record.Int(ev.CompletionTokens)
	}
	if ev.Model != "" {
		obj["model"] = record.String(ev.Model)
	}
	if ev.ConversationID != "" {
		obj["conversation_id"] = record.String(ev.ConversationID)
	}
	return obj
}

func statsRecord(s Stats, at time.Time) record.Object {
	return record.NewObject(
		record.F{Key: "id", Value: record.String(s.UserID)},
		record.F{Key: "user_id", Value: record.String(s.UserID)},
		record.F{Key: "total_tokens", Value: record.Int(s.TotalTokens)},
		record.F{Key: "request_count", Value: record.Int(s.RequestCount)},
		record.F{Key: "updated_at", Value: record.String(at.UTC().Format(time.RFC3339Nano))},
	)
}

func (t *Tracker) conversationRecord(c Conversation) record.Object {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}
	msgs := make(record.List, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, record.NewObject(
			record.F{Key: "role", Value: record.String(m.Role)},
			record.F{Key: "content", Value: record.String(m.Content)},
		))
	}
	obj := record.NewObject(
		record.F{Key: "id", Value: record.String(c.ID)},
		record.F{Key: "user_id", Value: record.String(c.UserID)},
		record.F{Key: "messages", Value: msgs},
		record.F{Key: "created_at", Value: record.String(createdAt.UTC().Format(time.RFC3339Nano))},
	)
	if c.Title != "" {
		obj["title"] = record.String(c.Title)
	}
	return obj
}
