package inmemdb

import (
	"context"
	"sort"

	"github.com/roxnlabs/mentora/core/session"
)

type sessionRepository struct {
	db *sessionTable
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) CreateSession(_ context.Context, r session.Record) (session.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored := copyRecord(r)
	repo.db.table[r.ID] = &stored
	return copyRecord(r), nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	r, ok := repo.db.table[id]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	return copyRecord(*r), nil
}

// QuerySessions returns the matching sessions, soonest scheduled first.
func (repo *sessionRepository) QuerySessions(_ context.Context, filter session.QueryFilter) ([]session.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	records := make([]session.Record, 0)
	for _, r := range repo.db.table {
		if filter.Match(*r) {
			records = append(records, copyRecord(*r))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ScheduledAt.Equal(records[j].ScheduledAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].ScheduledAt.Before(records[j].ScheduledAt)
	})
	start, end := paginate(len(records), filter.Limit, filter.Offset)
	return records[start:end], nil
}

func (repo *sessionRepository) UpdateSession(_ context.Context, r session.Record, expected session.Status) (session.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[r.ID]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	if stored.Status != expected {
		return session.Record{}, session.ErrStatusChanged
	}
	updated := copyRecord(r)
	repo.db.table[r.ID] = &updated
	return copyRecord(r), nil
}

func (repo *sessionRepository) RateSession(_ context.Context, id string, rating session.Rating) (session.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[id]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	if stored.Status != session.StatusCompleted {
		return session.Record{}, session.ErrNotRatable
	}
	if stored.Rating != nil {
		return session.Record{}, session.ErrAlreadyRated
	}
	stored.Rating = &rating
	stored.UpdatedAt = rating.RatedAt
	return copyRecord(*stored), nil
}

func (repo *sessionRepository) MentorRatingSummary(_ context.Context, mentorID string) (session.RatingSummary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	summary := session.RatingSummary{MentorID: mentorID}
	var total int
	for _, r := range repo.db.table {
		if r.MentorID == mentorID && r.Rating != nil {
			total += r.Rating.Score
			summary.Count++
		}
	}
	if summary.Count > 0 {
		summary.Average = float64(total) / float64(summary.Count)
	}
	return summary, nil
}

func copyRecord(r session.Record) session.Record {
	if r.Rating != nil {
		rating := *r.Rating
		r.Rating = &rating
	}
	return r
}
