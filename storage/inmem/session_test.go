package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/core/session"
)

func newSession(t *testing.T, repo session.Repository, status session.Status) session.Record {
	t.Helper()
	r, err := repo.CreateSession(context.Background(), session.Record{
		ID:              "s1",
		MentorID:        "mentor",
		MenteeID:        "mentee",
		Skill:           "go",
		ScheduledAt:     time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		PriceROXN:       "10",
		Status:          status,
	})
	require.NoError(t, err)
	return r
}

func TestSessionRepository_UpdateSession(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(Open())
	r := newSession(t, repo, session.StatusRequested)

	accepted := r
	accepted.Status = session.StatusAccepted
	got, err := repo.UpdateSession(ctx, accepted, session.StatusRequested)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAccepted, got.Status)

	// a concurrent reject read the record while it was still requested
	rejected := r
	rejected.Status = session.StatusRejected
	_, err = repo.UpdateSession(ctx, rejected, session.StatusRequested)
	assert.Equal(t, session.ErrStatusChanged, err)

	stored, err := repo.GetSession(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAccepted, stored.Status)

	missing := r
	missing.ID = "nope"
	_, err = repo.UpdateSession(ctx, missing, session.StatusRequested)
	assert.Equal(t, session.ErrNotFound, err)
}

func TestSessionRepository_RateSession(t *testing.T) {
	ctx := context.Background()
	ratedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("not completed", func(t *testing.T) {
		repo := NewSessionRepository(Open())
		r := newSession(t, repo, session.StatusAccepted)
		_, err := repo.RateSession(ctx, r.ID, session.Rating{Score: 5, RatedAt: ratedAt})
		assert.Equal(t, session.ErrNotRatable, err)
	})

	t.Run("once", func(t *testing.T) {
		repo := NewSessionRepository(Open())
		r := newSession(t, repo, session.StatusCompleted)

		got, err := repo.RateSession(ctx, r.ID, session.Rating{Score: 4, Comment: "great", RatedAt: ratedAt})
		require.NoError(t, err)
		if assert.NotNil(t, got.Rating) {
			assert.Equal(t, 4, got.Rating.Score)
		}
		assert.Equal(t, ratedAt, got.UpdatedAt)

		_, err = repo.RateSession(ctx, r.ID, session.Rating{Score: 1, RatedAt: ratedAt.Add(time.Hour)})
		assert.Equal(t, session.ErrAlreadyRated, err)

		stored, err := repo.GetSession(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, stored.Rating.Score, "first rating kept")

		summary, err := repo.MentorRatingSummary(ctx, "mentor")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Count)
		assert.Equal(t, float64(4), summary.Average)
	})

	t.Run("unknown session", func(t *testing.T) {
		repo := NewSessionRepository(Open())
		_, err := repo.RateSession(ctx, "nope", session.Rating{Score: 5, RatedAt: ratedAt})
		assert.Equal(t, session.ErrNotFound, err)
	})
}

func TestSessionRepository_copies(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(Open())
	r := newSession(t, repo, session.StatusCompleted)
	got, err := repo.RateSession(ctx, r.ID, session.Rating{Score: 3})
	require.NoError(t, err)

	got.Rating.Score = 1
	stored, err := repo.GetSession(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Rating.Score)
}
