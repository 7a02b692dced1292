package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roxnlabs/mentora/storage/migrate"
)

// MigrationStore keeps the applied migrations, and records the commands it is asked to run.
type MigrationStore struct {
	db *migrationTable
}

var (
	_ migrate.Store    = (*MigrationStore)(nil)
	_ migrate.Executor = (*MigrationStore)(nil)
)

func NewMigrationStore(db *DB) *MigrationStore {
	return &MigrationStore{db: db.migration}
}

func (s *MigrationStore) Applied(_ context.Context) ([]migrate.Record, error) {
	s.db.RLock()
	defer s.db.RUnlock()

	records := make([]migrate.Record, 0, len(s.db.table))
	for _, r := range s.db.table {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })
	return records, nil
}

func (s *MigrationStore) MarkApplied(_ context.Context, r migrate.Record) error {
	s.db.Lock()
	defer s.db.Unlock()
	s.db.table[r.Version] = r
	return nil
}

func (s *MigrationStore) MarkRolledBack(_ context.Context, version int64) error {
	s.db.Lock()
	defer s.db.Unlock()
	delete(s.db.table, version)
	return nil
}

// RunCommand records the command name (its first key) without executing anything.
func (s *MigrationStore) RunCommand(_ context.Context, cmd bson.D) error {
	if len(cmd) == 0 {
		return errors.New("empty command")
	}
	s.db.Lock()
	defer s.db.Unlock()

	name := cmd[0].Key
	if s.db.failOn != "" && name == s.db.failOn {
		return errors.Errorf("command %s failed", name)
	}
	s.db.commands = append(s.db.commands, name)
	return nil
}

// FailOn makes RunCommand fail for commands named `name`.
func (s *MigrationStore) FailOn(name string) {
	s.db.Lock()
	s.db.failOn = name
	s.db.Unlock()
}

// Commands returns the names of the commands run so far.
func (s *MigrationStore) Commands() []string {
	s.db.RLock()
	defer s.db.RUnlock()
	return append([]string{}, s.db.commands...)
}
