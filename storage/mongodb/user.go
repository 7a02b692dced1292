package mongodb

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
)

type userDoc struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Username      string    `bson:"username,omitempty"`
	Email         string    `bson:"email,omitempty"`
	WalletAddress string    `bson:"wallet_address,omitempty"`
	IsActive      bool      `bson:"is_active"`
	Roles         []string  `bson:"roles"`
	PasswordHash  []byte    `bson:"password_hash"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
	LastLogin     time.Time `bson:"last_login"`
}

func newUserDoc(usr user.User) userDoc {
	return userDoc{
		ID:            usr.ID,
		Name:          usr.Name,
		Username:      usr.Username,
		Email:         usr.Email,
		WalletAddress: usr.WalletAddress,
		IsActive:      usr.IsActive,
		Roles:         usr.Roles,
		PasswordHash:  usr.PasswordHash,
		CreatedAt:     usr.CreatedAt,
		UpdatedAt:     usr.UpdatedAt,
		LastLogin:     usr.LastLogin,
	}
}

func (d userDoc) toUser() user.User {
	roles := d.Roles
	if roles == nil {
		roles = []string{}
	}
	return user.User{
		ID:            d.ID,
		Name:          d.Name,
		Username:      d.Username,
		Email:         d.Email,
		WalletAddress: d.WalletAddress,
		IsActive:      d.IsActive,
		Roles:         roles,
		PasswordHash:  d.PasswordHash,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
		LastLogin:     d.LastLogin.UTC(),
	}
}

type userRepository struct {
	coll *mongo.Collection
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{coll: db.db.Collection(usersColl)}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email, wallet string, excludedUsers ...user.User) error {
	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}
	if wallet != "" {
		or = append(or, bson.D{{Key: "wallet_address", Value: wallet}})
	}
	if len(or) == 0 {
		return nil
	}
	filter := bson.D{{Key: "$or", Value: or}}
	if len(excludedUsers) > 0 {
		ids := make(bson.A, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$nin", Value: ids}}})
	}

	var doc userDoc
	err := repo.coll.FindOne(ctx, filter).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil
	case err != nil:
		return errors.Wrap(err, "checking uniqueness")
	case username != "" && doc.Username == username:
		return user.ErrUsernameExists
	case email != "" && doc.Email == email:
		return user.ErrEmailExists
	default:
		return user.ErrWalletExists
	}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if _, err := repo.coll.InsertOne(ctx, newUserDoc(usr)); err != nil {
		return user.User{}, uniquenessError(err)
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var f bson.D
	switch {
	case filter.ID != "":
		f = bson.D{{Key: "_id", Value: filter.ID}}
	case filter.Username != "":
		f = bson.D{{Key: "username", Value: filter.Username}}
	case filter.Email != "":
		f = bson.D{{Key: "email", Value: filter.Email}}
	case filter.UsernameOrEmail != "":
		f = bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "username", Value: filter.UsernameOrEmail}},
			bson.D{{Key: "email", Value: filter.UsernameOrEmail}},
		}}}
	case filter.WalletAddress != "":
		f = bson.D{{Key: "wallet_address", Value: filter.WalletAddress}}
	default:
		return user.User{}, user.ErrNotFound
	}

	var doc userDoc
	if err := repo.coll.FindOne(ctx, f).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	f := bson.D{}
	if filter.Search != "" {
		rgx := bson.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		f = append(f, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: rgx}},
			bson.D{{Key: "username", Value: rgx}},
			bson.D{{Key: "email", Value: rgx}},
		}})
	}
	if len(filter.Roles) > 0 {
		f = append(f, bson.E{Key: "roles", Value: bson.D{{Key: "$in", Value: filter.Roles}}})
	}
	if filter.IsActive != nil {
		f = append(f, bson.E{Key: "is_active", Value: *filter.IsActive})
	}
	created := bson.D{}
	if !filter.CreatedFrom.IsZero() {
		created = append(created, bson.E{Key: "$gte", Value: filter.CreatedFrom})
	}
	if !filter.CreatedTo.IsZero() {
		created = append(created, bson.E{Key: "$lte", Value: filter.CreatedTo})
	}
	if len(created) > 0 {
		f = append(f, bson.E{Key: "created_at", Value: created})
	}

	sort := bson.D{}
	for _, ord := range ordering {
		sort = append(sort, bson.E{Key: ord.Field, Value: ord.Direction()})
	}
	if len(sort) == 0 {
		sort = append(sort, bson.E{Key: "created_at", Value: 1})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})

	cur, err := repo.coll.Find(ctx, f, options.Find().SetSort(sort))
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding users")
	}
	users := make([]user.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	res, err := repo.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: usr.ID}}, newUserDoc(usr))
	if err != nil {
		return user.User{}, uniquenessError(err)
	}
	if res.MatchedCount == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	return errors.Wrap(err, "deleting users")
}

func uniquenessError(err error) error {
	switch duplicateField(err, "username", "email", "wallet_address") {
	case "username":
		return user.ErrUsernameExists
	case "email":
		return user.ErrEmailExists
	case "wallet_address":
		return user.ErrWalletExists
	}
	return errors.Wrap(err, "saving user")
}
