package repomanager

import (
	"context"

	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/payoutevents"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/ratecounters"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/receipts"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/scans"
)

// Repositories is one consistent set of repositories, either bound to the
// store directly or to a running transaction.
type Repositories interface {
	Scans() scans.Repository
	Receipts() receipts.Repository
	RateCounters() ratecounters.Repository
	PayoutEvents() payoutevents.Repository
}

// RepositoryManager vends repositories for one storage backend.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Repositories() Repositories
	// RunInTx runs fn in a transaction. The repositories handed to fn see
	// only the transaction; nothing fn writes is visible to others unless it
	// returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	Close() error
}
