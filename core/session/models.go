// Package session keeps the off-chain record of mentoring sessions.
//
// Payments & ratings settle on-chain; the record mirrors them so the API can
// schedule sessions and decide who may join a video room.
package session

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roxnlabs/mentora/core"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// Actors allowed to perform an Action.
const (
	actorMentor = 1 << iota
	actorMentee
)

type transition struct {
	from   Status
	to     Status
	actors int
}

// transitions is the session lifecycle:
// requested -> accepted | rejected | cancelled; accepted -> completed | cancelled.
var transitions = map[Action][]transition{
	ActionAccept:   {{from: StatusRequested, to: StatusAccepted, actors: actorMentor}},
	ActionReject:   {{from: StatusRequested, to: StatusRejected, actors: actorMentor}},
	ActionComplete: {{from: StatusAccepted, to: StatusCompleted, actors: actorMentor}},
	ActionCancel: {
		{from: StatusRequested, to: StatusCancelled, actors: actorMentor | actorMentee},
		{from: StatusAccepted, to: StatusCancelled, actors: actorMentor | actorMentee},
	},
}

// Rating mirrors the on-chain rating tuple (score, comment) left by the mentee.
type Rating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

type Record struct {
	ID              string    `json:"id"`
	ChainSessionID  string    `json:"chain_session_id,omitempty"` // SessionManager id, once paid on-chain
	MentorID        string    `json:"mentor_id"`
	MenteeID        string    `json:"mentee_id"`
	MentorWallet    string    `json:"mentor_wallet,omitempty"`
	MenteeWallet    string    `json:"mentee_wallet,omitempty"`
	Skill           string    `json:"skill"`
	ScheduledAt     time.Time `json:"scheduled_at"` // UTC
	DurationMinutes int       `json:"duration_minutes"`
	PriceROXN       string    `json:"price_roxn"` // decimal string, 18 decimals max
	Status          Status    `json:"status"`
	CancelledBy     string    `json:"cancelled_by,omitempty"`
	Rating          *Rating   `json:"rating,omitempty"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

// IsParticipant reports whether the user is the mentor or the mentee of the session.
func (r Record) IsParticipant(userID string) bool {
	return userID != "" && (r.MentorID == userID || r.MenteeID == userID)
}

func (r Record) actorOf(userID string) int {
	var actor int
	if r.MentorID == userID {
		actor |= actorMentor
	}
	if r.MenteeID == userID {
		actor |= actorMentee
	}
	return actor
}

// NewRecord is what a mentee provides to request a session.
type NewRecord struct {
	MentorID        string    `json:"mentor_id" validate:"required"`
	Skill           string    `json:"skill" validate:"required,notblank,max=100"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=15,max=480"`
	PriceROXN       string    `json:"price_roxn" validate:"required,roxn"`
	ChainSessionID  string    `json:"chain_session_id" validate:"omitempty,numeric"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.MentorID = core.CleanString(nr.MentorID)
	nr.Skill = core.CleanString(nr.Skill)
	nr.PriceROXN = core.CleanString(nr.PriceROXN)
	nr.ChainSessionID = core.CleanString(nr.ChainSessionID)
	return validate.Struct(nr)
}

type NewRating struct {
	Score   int    `json:"score" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

func (nr *NewRating) Validate(validate *validator.Validate) error {
	nr.Comment = core.CleanString(nr.Comment)
	return validate.Struct(nr)
}

// RatingSummary aggregates the ratings a mentor received.
type RatingSummary struct {
	MentorID string  `json:"mentor_id"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
}

// Roles a user can hold in a session, used to filter queries.
const (
	RoleMentor = "mentor"
	RoleMentee = "mentee"
)

type QueryFilter struct {
	UserID   string   `query:"-"`
	Role     string   `query:"role"`
	Statuses []Status `query:"status"`
	core.Pagination
}

func (qf *QueryFilter) Clean() {
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	if qf.Role != RoleMentor && qf.Role != RoleMentee {
		qf.Role = ""
	}
	qf.Pagination.Clean(100)
}

// Match reports whether r satisfies the filter; pagination is left to the caller.
func (qf *QueryFilter) Match(r Record) bool {
	switch qf.Role {
	case RoleMentor:
		if r.MentorID != qf.UserID {
			return false
		}
	case RoleMentee:
		if r.MenteeID != qf.UserID {
			return false
		}
	default:
		if qf.UserID != "" && !r.IsParticipant(qf.UserID) {
			return false
		}
	}
	if len(qf.Statuses) > 0 {
		for _, s := range qf.Statuses {
			if r.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
