package inmemdb

import (
	"context"
	"sort"

	"github.com/roxnlabs/mentora/core/feedback"
)

type feedbackRepository struct {
	feedback    *feedbackTable
	errorReport *errorReportTable
}

var _ feedback.Repository = (*feedbackRepository)(nil)

func NewFeedbackRepository(db *DB) feedback.Repository {
	return &feedbackRepository{feedback: db.feedback, errorReport: db.errorReport}
}

func (repo *feedbackRepository) CreateFeedback(_ context.Context, f feedback.Feedback) (feedback.Feedback, error) {
	repo.feedback.Lock()
	defer repo.feedback.Unlock()

	stored := f
	repo.feedback.table[f.ID] = &stored
	return f, nil
}

func (repo *feedbackRepository) GetFeedback(_ context.Context, id string) (feedback.Feedback, error) {
	repo.feedback.RLock()
	defer repo.feedback.RUnlock()

	f, ok := repo.feedback.table[id]
	if !ok {
		return feedback.Feedback{}, feedback.ErrNotFound
	}
	return *f, nil
}

func (repo *feedbackRepository) QueryFeedback(_ context.Context, filter feedback.QueryFilter) ([]feedback.Feedback, error) {
	repo.feedback.RLock()
	defer repo.feedback.RUnlock()

	list := make([]feedback.Feedback, 0)
	for _, f := range repo.feedback.table {
		if filter.Match(*f) {
			list = append(list, *f)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	start, end := paginate(len(list), filter.Limit, filter.Offset)
	return list[start:end], nil
}

func (repo *feedbackRepository) UpdateFeedback(_ context.Context, f feedback.Feedback) (feedback.Feedback, error) {
	repo.feedback.Lock()
	defer repo.feedback.Unlock()

	if _, ok := repo.feedback.table[f.ID]; !ok {
		return feedback.Feedback{}, feedback.ErrNotFound
	}
	stored := f
	repo.feedback.table[f.ID] = &stored
	return f, nil
}

func (repo *feedbackRepository) CreateErrorReport(_ context.Context, r feedback.ErrorReport) (feedback.ErrorReport, error) {
	repo.errorReport.Lock()
	defer repo.errorReport.Unlock()

	stored := r
	repo.errorReport.table[r.ID] = &stored
	return r, nil
}

func (repo *feedbackRepository) QueryErrorReports(_ context.Context, filter feedback.ErrorReportFilter) ([]feedback.ErrorReport, error) {
	repo.errorReport.RLock()
	defer repo.errorReport.RUnlock()

	list := make([]feedback.ErrorReport, 0)
	for _, r := range repo.errorReport.table {
		if filter.Match(*r) {
			list = append(list, *r)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	start, end := paginate(len(list), filter.Limit, filter.Offset)
	return list[start:end], nil
}
