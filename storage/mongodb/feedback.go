package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/roxnlabs/mentora/core/feedback"
)

type (
	feedbackDoc struct {
		ID        string                 `bson:"_id"`
		UserID    string                 `bson:"user_id,omitempty"`
		Type      string                 `bson:"type"`
		Message   string                 `bson:"message"`
		Rating    int                    `bson:"rating,omitempty"`
		Email     string                 `bson:"email,omitempty"`
		PageURL   string                 `bson:"page_url,omitempty"`
		UserAgent string                 `bson:"user_agent,omitempty"`
		Metadata  map[string]interface{} `bson:"metadata,omitempty"`
		Status    string                 `bson:"status"`
		CreatedAt time.Time              `bson:"created_at"`
		UpdatedAt time.Time              `bson:"updated_at"`
	}

	errorReportDoc struct {
		ID             string                 `bson:"_id"`
		Message        string                 `bson:"message"`
		Stack          string                 `bson:"stack,omitempty"`
		ComponentStack string                 `bson:"component_stack,omitempty"`
		URL            string                 `bson:"url,omitempty"`
		UserAgent      string                 `bson:"user_agent,omitempty"`
		UserID         string                 `bson:"user_id,omitempty"`
		Level          string                 `bson:"level"`
		Context        map[string]interface{} `bson:"context,omitempty"`
		CreatedAt      time.Time              `bson:"created_at"`
	}
)

func newFeedbackDoc(f feedback.Feedback) feedbackDoc {
	return feedbackDoc{
		ID:        f.ID,
		UserID:    f.UserID,
		Type:      string(f.Type),
		Message:   f.Message,
		Rating:    f.Rating,
		Email:     f.Email,
		PageURL:   f.PageURL,
		UserAgent: f.UserAgent,
		Metadata:  f.Metadata,
		Status:    string(f.Status),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func (d feedbackDoc) toFeedback() feedback.Feedback {
	return feedback.Feedback{
		ID:        d.ID,
		UserID:    d.UserID,
		Type:      feedback.Type(d.Type),
		Message:   d.Message,
		Rating:    d.Rating,
		Email:     d.Email,
		PageURL:   d.PageURL,
		UserAgent: d.UserAgent,
		Metadata:  d.Metadata,
		Status:    feedback.Status(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type feedbackRepository struct {
	feedback     *mongo.Collection
	errorReports *mongo.Collection
}

var _ feedback.Repository = (*feedbackRepository)(nil)

func NewFeedbackRepository(db *DB) feedback.Repository {
	return &feedbackRepository{
		feedback:     db.db.Collection(feedbackColl),
		errorReports: db.db.Collection(errorReportsColl),
	}
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (repo *feedbackRepository) CreateFeedback(ctx context.Context, f feedback.Feedback) (feedback.Feedback, error) {
	if _, err := repo.feedback.InsertOne(ctx, newFeedbackDoc(f)); err != nil {
		return feedback.Feedback{}, errors.Wrap(err, "inserting feedback")
	}
	return f, nil
}

func (repo *feedbackRepository) GetFeedback(ctx context.Context, id string) (feedback.Feedback, error) {
	var doc feedbackDoc
	if err := repo.feedback.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return feedback.Feedback{}, feedback.ErrNotFound
		}
		return feedback.Feedback{}, errors.Wrap(err, "getting feedback")
	}
	return doc.toFeedback(), nil
}

func (repo *feedbackRepository) QueryFeedback(ctx context.Context, filter feedback.QueryFilter) ([]feedback.Feedback, error) {
	f := bson.D{}
	if len(filter.Types) > 0 {
		types := make(bson.A, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		f = append(f, bson.E{Key: "type", Value: bson.D{{Key: "$in", Value: types}}})
	}
	if len(filter.Statuses) > 0 {
		statuses := make(bson.A, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		f = append(f, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}})
	}

	cur, err := repo.feedback.Find(ctx, f, findOptions(newestFirst, filter.Pagination))
	if err != nil {
		return nil, errors.Wrap(err, "querying feedback")
	}
	var docs []feedbackDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding feedback")
	}
	list := make([]feedback.Feedback, 0, len(docs))
	for _, d := range docs {
		list = append(list, d.toFeedback())
	}
	return list, nil
}

func (repo *feedbackRepository) UpdateFeedback(ctx context.Context, f feedback.Feedback) (feedback.Feedback, error) {
	res, err := repo.feedback.ReplaceOne(ctx, bson.D{{Key: "_id", Value: f.ID}}, newFeedbackDoc(f))
	if err != nil {
		return feedback.Feedback{}, errors.Wrap(err, "updating feedback")
	}
	if res.MatchedCount == 0 {
		return feedback.Feedback{}, feedback.ErrNotFound
	}
	return f, nil
}

func (repo *feedbackRepository) CreateErrorReport(ctx context.Context, r feedback.ErrorReport) (feedback.ErrorReport, error) {
	doc := errorReportDoc{
		ID:             r.ID,
		Message:        r.Message,
		Stack:          r.Stack,
		ComponentStack: r.ComponentStack,
		URL:            r.URL,
		UserAgent:      r.UserAgent,
		UserID:         r.UserID,
		Level:          string(r.Level),
		Context:        r.Context,
		CreatedAt:      r.CreatedAt,
	}
	if _, err := repo.errorReports.InsertOne(ctx, doc); err != nil {
		return feedback.ErrorReport{}, errors.Wrap(err, "inserting error report")
	}
	return r, nil
}

func (repo *feedbackRepository) QueryErrorReports(ctx context.Context, filter feedback.ErrorReportFilter) ([]feedback.ErrorReport, error) {
	f := bson.D{}
	if len(filter.Levels) > 0 {
		levels := make(bson.A, 0, len(filter.Levels))
		for _, l := range filter.Levels {
			levels = append(levels, string(l))
		}
		f = append(f, bson.E{Key: "level", Value: bson.D{{Key: "$in", Value: levels}}})
	}

	cur, err := repo.errorReports.Find(ctx, f, findOptions(newestFirst, filter.Pagination))
	if err != nil {
		return nil, errors.Wrap(err, "querying error reports")
	}
	var docs []errorReportDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding error reports")
	}
	list := make([]feedback.ErrorReport, 0, len(docs))
	for _, d := range docs {
		list = append(list, feedback.ErrorReport{
			ID:             d.ID,
			Message:        d.Message,
			Stack:          d.Stack,
			ComponentStack: d.ComponentStack,
			URL:            d.URL,
			UserAgent:      d.UserAgent,
			UserID:         d.UserID,
			Level:          feedback.Level(d.Level),
			Context:        d.Context,
			CreatedAt:      d.CreatedAt.UTC(),
		})
	}
	return list, nil
}
