package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound          = core.NotFound("session not found")
	ErrNotParticipant    = core.Forbidden("you are not a participant of this session")
	ErrActionNotAllowed  = core.Forbidden("you are not allowed to perform this action")
	ErrInvalidTransition = core.Conflict("invalid status transition")
	ErrStatusChanged     = core.Conflict("session status changed, please retry")
	ErrNotRatable        = core.Conflict("only completed sessions can be rated")
	ErrAlreadyRated      = core.Conflict("session already rated")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, r Record) (Record, error)
		GetSession(ctx context.Context, id string) (Record, error)
		QuerySessions(ctx context.Context, filter QueryFilter) ([]Record, error)
		// UpdateSession saves r only if the stored status is still `expected`, else fails with ErrStatusChanged.
		UpdateSession(ctx context.Context, r Record, expected Status) (Record, error)
		// RateSession sets the rating of a completed, unrated session, else fails with ErrNotRatable or ErrAlreadyRated.
		RateSession(ctx context.Context, id string, rating Rating) (Record, error)
		MentorRatingSummary(ctx context.Context, mentorID string) (RatingSummary, error)
	}

	Service interface {
		Create(ctx context.Context, mentee user.User, nr NewRecord) (Record, error)
		Query(ctx context.Context, filter QueryFilter) ([]Record, error)
		// GetForUser returns the session if usr takes part in it (admins see every session).
		GetForUser(ctx context.Context, id string, usr user.User) (Record, error)
		Transition(ctx context.Context, id string, actor user.User, action Action) (Record, error)
		Rate(ctx context.Context, id string, actor user.User, nr NewRating) (Record, error)
		MentorRating(ctx context.Context, mentorID string) (RatingSummary, error)
		// CanJoinRoom reports whether the user may join the video room of the session.
		CanJoinRoom(ctx context.Context, id, userID string) (bool, error)
	}

	service struct {
		repo   Repository
		usrSvc user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service) Service {
	return &service{repo: repo, usrSvc: usrSvc}
}

func (svc *service) Create(ctx context.Context, mentee user.User, nr NewRecord) (Record, error) {
	if !mentee.IsMentee() {
		return Record{}, core.Forbidden("only mentees can request sessions")
	}
	if nr.MentorID == mentee.ID {
		return Record{}, core.NewValidationError(nil, core.FieldError{Field: "mentor_id", Error: "you cannot book yourself"})
	}
	now := NowFunc().UTC()
	if !nr.ScheduledAt.After(now) {
		return Record{}, core.NewValidationError(nil, core.FieldError{Field: "scheduled_at", Error: "must be in the future"})
	}

	mentor, err := svc.usrSvc.GetByID(ctx, nr.MentorID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Record{}, core.NewValidationError(nil, core.FieldError{Field: "mentor_id", Error: "mentor not found"})
		}
		return Record{}, errors.Wrap(err, "finding mentor")
	}
	if !mentor.IsMentor() || !mentor.IsActive {
		return Record{}, core.NewValidationError(nil, core.FieldError{Field: "mentor_id", Error: "mentor not found"})
	}

	r := Record{
		ID:              uuid.NewString(),
		ChainSessionID:  nr.ChainSessionID,
		MentorID:        mentor.ID,
		MenteeID:        mentee.ID,
		MentorWallet:    mentor.WalletAddress,
		MenteeWallet:    mentee.WalletAddress,
		Skill:           nr.Skill,
		ScheduledAt:     nr.ScheduledAt.UTC(),
		DurationMinutes: nr.DurationMinutes,
		PriceROXN:       nr.PriceROXN,
		Status:          StatusRequested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return svc.repo.CreateSession(ctx, r)
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	return svc.repo.QuerySessions(ctx, filter)
}

func (svc *service) GetForUser(ctx context.Context, id string, usr user.User) (Record, error) {
	r, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !(r.IsParticipant(usr.ID) || usr.IsAdmin()) {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (svc *service) Transition(ctx context.Context, id string, actor user.User, action Action) (Record, error) {
	r, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !r.IsParticipant(actor.ID) {
		return Record{}, ErrNotFound
	}

	candidates, ok := transitions[action]
	if !ok {
		return Record{}, ErrInvalidTransition
	}
	for _, t := range candidates {
		if t.from != r.Status {
			continue
		}
		if t.actors&r.actorOf(actor.ID) == 0 {
			return Record{}, ErrActionNotAllowed
		}

		from := r.Status
		r.Status = t.to
		if t.to == StatusCancelled {
			r.CancelledBy = actor.ID
		}
		r.UpdatedAt = NowFunc().UTC()
		return svc.repo.UpdateSession(ctx, r, from)
	}
	return Record{}, errors.Wrapf(ErrInvalidTransition, "cannot %s a %s session", action, r.Status)
}

func (svc *service) Rate(ctx context.Context, id string, actor user.User, nr NewRating) (Record, error) {
	r, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !r.IsParticipant(actor.ID) {
		return Record{}, ErrNotFound
	}
	if r.MenteeID != actor.ID {
		return Record{}, ErrActionNotAllowed
	}
	if r.Status != StatusCompleted {
		return Record{}, ErrNotRatable
	}
	if r.Rating != nil {
		return Record{}, ErrAlreadyRated
	}

	return svc.repo.RateSession(ctx, r.ID, Rating{Score: nr.Score, Comment: nr.Comment, RatedAt: NowFunc().UTC()})
}

func (svc *service) MentorRating(ctx context.Context, mentorID string) (RatingSummary, error) {
	return svc.repo.MentorRatingSummary(ctx, mentorID)
}

func (svc *service) CanJoinRoom(ctx context.Context, id, userID string) (bool, error) {
	r, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return r.Status == StatusAccepted && r.IsParticipant(userID), nil
}
