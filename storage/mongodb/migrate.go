package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/roxnlabs/mentora/storage/migrate"
)

type migrationDoc struct {
	Version   int64     `bson:"_id"`
	Name      string    `bson:"name"`
	AppliedAt time.Time `bson:"applied_at"`
}

// MigrationStore records the applied migrations in their own collection.
type MigrationStore struct {
	coll *mongo.Collection
}

var _ migrate.Store = (*MigrationStore)(nil)

func NewMigrationStore(db *DB) *MigrationStore {
	return &MigrationStore{coll: db.db.Collection(db.migrationsColl)}
}

func (s *MigrationStore) Applied(ctx context.Context) ([]migrate.Record, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "listing migrations")
	}
	var docs []migrationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding migrations")
	}
	records := make([]migrate.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, migrate.Record{Version: d.Version, Name: d.Name, AppliedAt: d.AppliedAt.UTC()})
	}
	return records, nil
}

func (s *MigrationStore) MarkApplied(ctx context.Context, r migrate.Record) error {
	doc := migrationDoc{Version: r.Version, Name: r.Name, AppliedAt: r.AppliedAt}
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: r.Version}}, doc, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "recording migration")
}

func (s *MigrationStore) MarkRolledBack(ctx context.Context, version int64) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: version}})
	return errors.Wrap(err, "removing migration record")
}
