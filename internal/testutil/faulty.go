package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// ErrInjected is the cause of every injected failure.
var ErrInjected = errors.New("injected failure")

// Store is the store surface FaultyStore wraps.
type Store interface {
	Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error
	Get(ctx context.Context, kind entity.Kind, id string) (record.Object, bool, error)
	Delete(ctx context.Context, kind entity.Kind, id string) error
	Count(ctx context.Context, kind entity.Kind) (int64, error)
}

// Store operation names accepted by FailOn.
const (
	OpUpsert = "upsert"
	OpGet    = "get"
	OpDelete = "delete"
	OpCount  = "count"
)

type faultKey struct {
	op   string
	kind entity.Kind
	id   string
}

// FaultyStore wraps a Store and fails chosen calls with ErrInjected.
//
// A fault matches on (op, kind, id); an empty id matches every ID of the
// kind. Each fault fires a fixed number of times, or forever when times is
// negative.
//
// Thread-safety: all methods are safe for concurrent use.
type FaultyStore struct {
	Store

	mu     sync.Mutex
	faults map[faultKey]int
}

// NewFaultyStore wraps inner with no faults armed.
func NewFaultyStore(inner Store) *FaultyStore {
	return &FaultyStore{Store: inner, faults: make(map[faultKey]int)}
}

// FailOn arms a fault. times < 0 fails every matching call.
func (f *FaultyStore) FailOn(op string, kind entity.Kind, id string, times int) *FaultyStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[faultKey{op, kind, id}] = times
	return f
}

// Clear disarms every fault.
func (f *FaultyStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[faultKey]int)
}

func (f *FaultyStore) check(op string, kind entity.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range []faultKey{{op, kind, id}, {op, kind, ""}} {
		n, ok := f.faults[k]
		if !ok || n == 0 {
			continue
		}
		if n > 0 {
			f.faults[k] = n - 1
		}
		return fmt.Errorf("%s %s/%s: %w", op, kind, id, ErrInjected)
	}
	return nil
}

func (f *FaultyStore) Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error {
	if err := f.check(OpUpsert, kind, id); err != nil {
		return err
	}
	return f.Store.Upsert(ctx, kind, id, obj)
}

func (f *FaultyStore) Get(ctx context.Context, kind entity.Kind, id string) (record.Object, bool, error) {
	if err := f.check(OpGet, kind, id); err != nil {
		return nil, false, err
	}
	return f.Store.Get(ctx, kind, id)
}

func (f *FaultyStore) Delete(ctx context.Context, kind entity.Kind, id string) error {
	if err := f.check(OpDelete, kind, id); err != nil {
		return err
	}
	return f.Store.Delete(ctx, kind, id)
}

func (f *FaultyStore) Count(ctx context.Context, kind entity.Kind) (int64, error) {
	if err := f.check(OpCount, kind, ""); err != nil {
		return 0, err
	}
	return f.Store.Count(ctx, kind)
}

// Enabled forwards to the wrapped store when it can be toggled, so a
// FaultyStore can stand in for the secondary.
func (f *FaultyStore) Enabled() bool {
	if e, ok := f.Store.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}
