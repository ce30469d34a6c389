// Package memory is an in-process record store with the same uniqueness and
// compare-and-swap semantics as the Postgres repositories. It backs local
// development and service tests; it does not survive a restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/payoutevents"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/ratecounters"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/receipts"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/scans"
)

type state struct {
	scans    map[string]models.ScanRecord
	receipts map[string]models.ReceiptRecord
	counters map[string]models.RateCounter
	events   []models.PayoutEvent
}

func newState() *state {
	return &state{
		scans:    map[string]models.ScanRecord{},
		receipts: map[string]models.ReceiptRecord{},
		counters: map[string]models.RateCounter{},
	}
}

func (s *state) clone() *state {
	return &state{
		scans:    maps.Clone(s.scans),
		receipts: maps.Clone(s.receipts),
		counters: maps.Clone(s.counters),
		events:   slices.Clone(s.events),
	}
}

// view runs fn against one consistent state.
type view func(fn func(st *state) error) error

// Store holds all records behind one mutex. Statements outside a transaction
// lock it per call; a transaction holds it for its whole duration and works
// on a copy that replaces the live state only on success.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) direct(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// Repos returns repositories that operate outside a transaction.
func (s *Store) Repos() Repos {
	return Repos{v: s.direct}
}

// RunInTx runs fn atomically. fn must not block on anything but the returned
// repositories.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	err := fn(ctx, Repos{v: func(f func(st *state) error) error { return f(work) }})
	if err != nil {
		return err
	}
	s.st = work
	return nil
}

// Repos groups the repositories bound to one view of the store.
type Repos struct {
	v view
}

func (r Repos) Scans() scans.Repository               { return &ScanRepository{v: r.v} }
func (r Repos) Receipts() receipts.Repository         { return &ReceiptRepository{v: r.v} }
func (r Repos) RateCounters() ratecounters.Repository { return &RateCounterRepository{v: r.v} }
func (r Repos) PayoutEvents() payoutevents.Repository { return &PayoutEventRepository{v: r.v} }
