package repomanager

import (
	"context"

	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/memory"
)

// InMemoryRepositoryManager serves repositories from a memory.Store.
type InMemoryRepositoryManager struct {
	store *memory.Store
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{store: memory.NewStore()}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context) error {
	return nil
}

func (m *InMemoryRepositoryManager) Repositories() Repositories {
	return m.store.Repos()
}

func (m *InMemoryRepositoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return m.store.RunInTx(ctx, func(ctx context.Context, r memory.Repos) error {
		return fn(ctx, r)
	})
}

func (m *InMemoryRepositoryManager) Close() error {
	return nil
}
