// Package mongodb implements the repositories over MongoDB.
package mongodb

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/roxnlabs/mentora/core"
)

const (
	usersColl        = "users"
	sessionsColl     = "sessions"
	feedbackColl     = "feedback"
	errorReportsColl = "error_reports"
)

type DB struct {
	client         *mongo.Client
	db             *mongo.Database
	migrationsColl string
	secretsColl    string
}

// Open connects to the configured database and waits for it to answer.
func Open(ctx context.Context, conf *core.Config) (*DB, error) {
	opts := options.Client().
		ApplyURI(conf.MongoURI()).
		SetAppName(conf.AppName).
		SetConnectTimeout(conf.Mongo.ConnectTimeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	db := &DB{
		client:         client,
		db:             client.Database(conf.Mongo.Database),
		migrationsColl: conf.Migrations.Collection,
		secretsColl:    conf.Secrets.Collection,
	}
	if err := db.ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func (db *DB) ping(ctx context.Context) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

func (db *DB) Ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Database is the underlying database, for callers needing raw access (backups...).
func (db *DB) Database() *mongo.Database { return db.db }

// RunCommand runs a database command, as migrations do.
func (db *DB) RunCommand(ctx context.Context, cmd bson.D) error {
	return db.db.RunCommand(ctx, cmd).Err()
}

// EnsureIndexes creates the indexes the repositories rely on. Existing indexes are left alone.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	unique := func() *options.IndexOptionsBuilder { return options.Index().SetUnique(true).SetSparse(true) }
	indexes := map[string][]mongo.IndexModel{
		usersColl: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "wallet_address", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		sessionsColl: {
			{Keys: bson.D{{Key: "mentor_id", Value: 1}, {Key: "scheduled_at", Value: 1}}},
			{Keys: bson.D{{Key: "mentee_id", Value: 1}, {Key: "scheduled_at", Value: 1}}},
		},
		feedbackColl: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		errorReportsColl: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", coll)
		}
	}
	return nil
}

// duplicateField returns the field of the unique index a duplicate key error is about.
func duplicateField(err error, fields ...string) string {
	if !mongo.IsDuplicateKeyError(err) {
		return ""
	}
	msg := err.Error()
	for _, f := range fields {
		if strings.Contains(msg, f+"_1") {
			return f
		}
	}
	return ""
}

func findOptions(sort bson.D, p core.Pagination) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(sort)
	if p.Offset > 0 {
		opts.SetSkip(p.Offset)
	}
	if p.Limit > 0 {
		opts.SetLimit(p.Limit)
	}
	return opts
}
