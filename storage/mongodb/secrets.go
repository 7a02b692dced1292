package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/roxnlabs/mentora/services/secrets"
)

type sealedDoc struct {
	Name       string    `bson:"_id"`
	Version    int       `bson:"version"`
	Salt       []byte    `bson:"salt"`
	N          int       `bson:"n"`
	R          int       `bson:"r"`
	P          int       `bson:"p"`
	Nonce      []byte    `bson:"nonce"`
	Ciphertext []byte    `bson:"ciphertext"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d sealedDoc) toSealed() secrets.Sealed {
	return secrets.Sealed{
		Name:       d.Name,
		Version:    d.Version,
		Salt:       d.Salt,
		N:          d.N,
		R:          d.R,
		P:          d.P,
		Nonce:      d.Nonce,
		Ciphertext: d.Ciphertext,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

type secretRepository struct {
	coll *mongo.Collection
}

var _ secrets.Repository = (*secretRepository)(nil)

func NewSecretRepository(db *DB) secrets.Repository {
	return &secretRepository{coll: db.db.Collection(db.secretsColl)}
}

func (repo *secretRepository) PutSecret(ctx context.Context, s secrets.Sealed) error {
	doc := sealedDoc(s)
	_, err := repo.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: s.Name}}, doc, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "storing secret")
}

func (repo *secretRepository) GetSecret(ctx context.Context, name string) (secrets.Sealed, error) {
	var doc sealedDoc
	if err := repo.coll.FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return secrets.Sealed{}, secrets.ErrNotFound
		}
		return secrets.Sealed{}, errors.Wrap(err, "getting secret")
	}
	return doc.toSealed(), nil
}

func (repo *secretRepository) DeleteSecret(ctx context.Context, name string) error {
	res, err := repo.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: name}})
	if err != nil {
		return errors.Wrap(err, "deleting secret")
	}
	if res.DeletedCount == 0 {
		return secrets.ErrNotFound
	}
	return nil
}

func (repo *secretRepository) ListSecrets(ctx context.Context) ([]secrets.Sealed, error) {
	cur, err := repo.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "listing secrets")
	}
	var docs []sealedDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding secrets")
	}
	list := make([]secrets.Sealed, 0, len(docs))
	for _, d := range docs {
		list = append(list, d.toSealed())
	}
	return list, nil
}
