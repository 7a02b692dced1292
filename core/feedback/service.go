package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roxnlabs/mentora/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound = core.NotFound("feedback not found")
)

type (
	Repository interface {
		CreateFeedback(ctx context.Context, f Feedback) (Feedback, error)
		GetFeedback(ctx context.Context, id string) (Feedback, error)
		// QueryFeedback returns the matching feedback, newest first.
		QueryFeedback(ctx context.Context, filter QueryFilter) ([]Feedback, error)
		UpdateFeedback(ctx context.Context, f Feedback) (Feedback, error)
		CreateErrorReport(ctx context.Context, r ErrorReport) (ErrorReport, error)
		// QueryErrorReports returns the matching reports, newest first.
		QueryErrorReports(ctx context.Context, filter ErrorReportFilter) ([]ErrorReport, error)
	}

	// Meta is what the request tells about the sender.
	Meta struct {
		UserID    string
		UserAgent string
	}

	Service interface {
		Create(ctx context.Context, nf NewFeedback, meta Meta) (Feedback, error)
		Query(ctx context.Context, filter QueryFilter) ([]Feedback, error)
		UpdateStatus(ctx context.Context, id string, us UpdateStatus) (Feedback, error)
		Report(ctx context.Context, nr NewErrorReport, meta Meta) (ErrorReport, error)
		QueryErrorReports(ctx context.Context, filter ErrorReportFilter) ([]ErrorReport, error)
	}

	service struct {
		repo   Repository
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, logger core.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (svc *service) Create(ctx context.Context, nf NewFeedback, meta Meta) (Feedback, error) {
	now := NowFunc().UTC()
	f := Feedback{
		ID:        uuid.NewString(),
		UserID:    meta.UserID,
		Type:      nf.Type,
		Message:   nf.Message,
		Rating:    nf.Rating,
		Email:     nf.Email,
		PageURL:   nf.PageURL,
		UserAgent: truncate(meta.UserAgent, maxUserAgentLen),
		Metadata:  nf.Metadata,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f, err := svc.repo.CreateFeedback(ctx, f)
	if err != nil {
		return Feedback{}, err
	}
	svc.logger.Info(fmt.Sprintf("feedback received: %s", f.Type), map[string]interface{}{
		"feedback_id": f.ID,
		"rating":      f.Rating,
	})
	return f, nil
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Feedback, error) {
	return svc.repo.QueryFeedback(ctx, filter)
}

func (svc *service) UpdateStatus(ctx context.Context, id string, us UpdateStatus) (Feedback, error) {
	f, err := svc.repo.GetFeedback(ctx, id)
	if err != nil {
		return Feedback{}, err
	}
	if f.Status == us.Status {
		return f, nil
	}
	f.Status = us.Status
	f.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateFeedback(ctx, f)
}

// Report stores a client error report and forwards it to the error tracker.
func (svc *service) Report(ctx context.Context, nr NewErrorReport, meta Meta) (ErrorReport, error) {
	r := ErrorReport{
		ID:             uuid.NewString(),
		Message:        nr.Message,
		Stack:          nr.Stack,
		ComponentStack: nr.ComponentStack,
		URL:            nr.URL,
		UserAgent:      truncate(meta.UserAgent, maxUserAgentLen),
		UserID:         meta.UserID,
		Level:          nr.Level,
		Context:        nr.Context,
		CreatedAt:      NowFunc().UTC(),
	}
	r, err := svc.repo.CreateErrorReport(ctx, r)
	if err != nil {
		return ErrorReport{}, err
	}

	msg := "client error: " + r.Message
	fields := map[string]interface{}{
		"report_id":       r.ID,
		"url":             r.URL,
		"user_agent":      r.UserAgent,
		"user_id":         r.UserID,
		"stack":           r.Stack,
		"component_stack": r.ComponentStack,
		"context":         r.Context,
	}
	switch r.Level {
	case LevelInfo:
		svc.logger.Info(msg, fields)
	case LevelWarning:
		svc.logger.Warn(msg, fields)
	default:
		svc.logger.Error(msg, fields)
	}
	return r, nil
}

func (svc *service) QueryErrorReports(ctx context.Context, filter ErrorReportFilter) ([]ErrorReport, error) {
	return svc.repo.QueryErrorReports(ctx, filter)
}
