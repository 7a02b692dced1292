package inmemdb

import (
	"context"

	"github.com/roxnlabs/mentora/services/secrets"
)

type secretRepository struct {
	db *secretTable
}

var _ secrets.Repository = (*secretRepository)(nil)

func NewSecretRepository(db *DB) secrets.Repository {
	return &secretRepository{db: db.secret}
}

func (repo *secretRepository) PutSecret(_ context.Context, s secrets.Sealed) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if old, ok := repo.db.table[s.Name]; ok && s.CreatedAt.IsZero() {
		s.CreatedAt = old.CreatedAt
	}
	repo.db.table[s.Name] = &s
	return nil
}

func (repo *secretRepository) GetSecret(_ context.Context, name string) (secrets.Sealed, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	s, ok := repo.db.table[name]
	if !ok {
		return secrets.Sealed{}, secrets.ErrNotFound
	}
	return *s, nil
}

func (repo *secretRepository) DeleteSecret(_ context.Context, name string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[name]; !ok {
		return secrets.ErrNotFound
	}
	delete(repo.db.table, name)
	return nil
}

func (repo *secretRepository) ListSecrets(_ context.Context) ([]secrets.Sealed, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	list := make([]secrets.Sealed, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		list = append(list, *s)
	}
	return list, nil
}
