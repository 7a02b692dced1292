package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/roxnlabs/mentora/core/session"
)

type (
	ratingDoc struct {
		Score   int       `bson:"score"`
		Comment string    `bson:"comment,omitempty"`
		RatedAt time.Time `bson:"rated_at"`
	}

	sessionDoc struct {
		ID              string     `bson:"_id"`
		ChainSessionID  string     `bson:"chain_session_id,omitempty"`
		MentorID        string     `bson:"mentor_id"`
		MenteeID        string     `bson:"mentee_id"`
		MentorWallet    string     `bson:"mentor_wallet,omitempty"`
		MenteeWallet    string     `bson:"mentee_wallet,omitempty"`
		Skill           string     `bson:"skill"`
		ScheduledAt     time.Time  `bson:"scheduled_at"`
		DurationMinutes int        `bson:"duration_minutes"`
		PriceROXN       string     `bson:"price_roxn"`
		Status          string     `bson:"status"`
		CancelledBy     string     `bson:"cancelled_by,omitempty"`
		Rating          *ratingDoc `bson:"rating,omitempty"`
		CreatedAt       time.Time  `bson:"created_at"`
		UpdatedAt       time.Time  `bson:"updated_at"`
	}
)

func newSessionDoc(r session.Record) sessionDoc {
	d := sessionDoc{
		ID:              r.ID,
		ChainSessionID:  r.ChainSessionID,
		MentorID:        r.MentorID,
		MenteeID:        r.MenteeID,
		MentorWallet:    r.MentorWallet,
		MenteeWallet:    r.MenteeWallet,
		Skill:           r.Skill,
		ScheduledAt:     r.ScheduledAt,
		DurationMinutes: r.DurationMinutes,
		PriceROXN:       r.PriceROXN,
		Status:          string(r.Status),
		CancelledBy:     r.CancelledBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.Rating != nil {
		d.Rating = &ratingDoc{Score: r.Rating.Score, Comment: r.Rating.Comment, RatedAt: r.Rating.RatedAt}
	}
	return d
}

func (d sessionDoc) toRecord() session.Record {
	r := session.Record{
		ID:              d.ID,
		ChainSessionID:  d.ChainSessionID,
		MentorID:        d.MentorID,
		MenteeID:        d.MenteeID,
		MentorWallet:    d.MentorWallet,
		MenteeWallet:    d.MenteeWallet,
		Skill:           d.Skill,
		ScheduledAt:     d.ScheduledAt.UTC(),
		DurationMinutes: d.DurationMinutes,
		PriceROXN:       d.PriceROXN,
		Status:          session.Status(d.Status),
		CancelledBy:     d.CancelledBy,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.Rating != nil {
		r.Rating = &session.Rating{Score: d.Rating.Score, Comment: d.Rating.Comment, RatedAt: d.Rating.RatedAt.UTC()}
	}
	return r
}

type sessionRepository struct {
	coll *mongo.Collection
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{coll: db.db.Collection(sessionsColl)}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, r session.Record) (session.Record, error) {
	if _, err := repo.coll.InsertOne(ctx, newSessionDoc(r)); err != nil {
		return session.Record{}, errors.Wrap(err, "inserting session")
	}
	return r, nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (session.Record, error) {
	var doc sessionDoc
	if err := repo.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return session.Record{}, session.ErrNotFound
		}
		return session.Record{}, errors.Wrap(err, "getting session")
	}
	return doc.toRecord(), nil
}

func (repo *sessionRepository) QuerySessions(ctx context.Context, filter session.QueryFilter) ([]session.Record, error) {
	f := bson.D{}
	switch filter.Role {
	case session.RoleMentor:
		f = append(f, bson.E{Key: "mentor_id", Value: filter.UserID})
	case session.RoleMentee:
		f = append(f, bson.E{Key: "mentee_id", Value: filter.UserID})
	default:
		if filter.UserID != "" {
			f = append(f, bson.E{Key: "$or", Value: bson.A{
				bson.D{{Key: "mentor_id", Value: filter.UserID}},
				bson.D{{Key: "mentee_id", Value: filter.UserID}},
			}})
		}
	}
	if len(filter.Statuses) > 0 {
		statuses := make(bson.A, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		f = append(f, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}})
	}

	sort := bson.D{{Key: "scheduled_at", Value: 1}, {Key: "_id", Value: 1}}
	cur, err := repo.coll.Find(ctx, f, findOptions(sort, filter.Pagination))
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding sessions")
	}
	records := make([]session.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.toRecord())
	}
	return records, nil
}

func (repo *sessionRepository) UpdateSession(ctx context.Context, r session.Record, expected session.Status) (session.Record, error) {
	filter := bson.D{{Key: "_id", Value: r.ID}, {Key: "status", Value: string(expected)}}
	res, err := repo.coll.ReplaceOne(ctx, filter, newSessionDoc(r))
	if err != nil {
		return session.Record{}, errors.Wrap(err, "updating session")
	}
	if res.MatchedCount == 0 {
		if _, err := repo.GetSession(ctx, r.ID); err != nil {
			return session.Record{}, err
		}
		return session.Record{}, session.ErrStatusChanged
	}
	return r, nil
}

func (repo *sessionRepository) RateSession(ctx context.Context, id string, rating session.Rating) (session.Record, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: string(session.StatusCompleted)},
		{Key: "rating", Value: bson.D{{Key: "$exists", Value: false}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "rating", Value: ratingDoc{Score: rating.Score, Comment: rating.Comment, RatedAt: rating.RatedAt}},
		{Key: "updated_at", Value: rating.RatedAt},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDoc
	err := repo.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toRecord(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return session.Record{}, errors.Wrap(err, "rating session")
	}

	r, err := repo.GetSession(ctx, id)
	switch {
	case err != nil:
		return session.Record{}, err
	case r.Status != session.StatusCompleted:
		return session.Record{}, session.ErrNotRatable
	default:
		return session.Record{}, session.ErrAlreadyRated
	}
}

func (repo *sessionRepository) MentorRatingSummary(ctx context.Context, mentorID string) (session.RatingSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "mentor_id", Value: mentorID},
			{Key: "rating", Value: bson.D{{Key: "$exists", Value: true}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "average", Value: bson.D{{Key: "$avg", Value: "$rating.score"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := repo.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return session.RatingSummary{}, errors.Wrap(err, "aggregating ratings")
	}
	var results []struct {
		Average float64 `bson:"average"`
		Count   int     `bson:"count"`
	}
	if err := cur.All(ctx, &results); err != nil {
		return session.RatingSummary{}, errors.Wrap(err, "decoding ratings")
	}

	summary := session.RatingSummary{MentorID: mentorID}
	if len(results) > 0 {
		summary.Average = results[0].Average
		summary.Count = results[0].Count
	}
	return summary, nil
}
