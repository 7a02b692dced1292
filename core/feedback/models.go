package feedback

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roxnlabs/mentora/core"
)

type (
	Type   string
	Status string
	Level  string
)

const (
	TypeBug     Type = "bug"
	TypeFeature Type = "feature"
	TypeGeneral Type = "general"
	TypeOther   Type = "other"

	StatusNew      Status = "new"
	StatusReviewed Status = "reviewed"
	StatusResolved Status = "resolved"

	LevelFatal   Level = "fatal"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"

	maxUserAgentLen = 512
)

// Feedback is a message users leave from the app (bug report, feature request...).
type Feedback struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id,omitempty"`
	Type      Type                   `json:"type"`
	Message   string                 `json:"message"`
	Rating    int                    `json:"rating,omitempty"` // 1-5, 0 when not rated
	Email     string                 `json:"email,omitempty"`
	PageURL   string                 `json:"page_url,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Status    Status                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"` // UTC
	UpdatedAt time.Time              `json:"updated_at"` // UTC
}

type NewFeedback struct {
	Type     Type                   `json:"type" validate:"required,oneof=bug feature general other"`
	Message  string                 `json:"message" validate:"required,notblank,max=5000"`
	Rating   int                    `json:"rating" validate:"min=0,max=5"`
	Email    string                 `json:"email" validate:"omitempty,email"`
	PageURL  string                 `json:"page_url" validate:"omitempty,url,max=2048"`
	Metadata map[string]interface{} `json:"metadata" validate:"max=50"`
}

func (nf *NewFeedback) Validate(validate *validator.Validate) error {
	nf.Type = Type(core.CleanString(string(nf.Type), true /* lower */))
	nf.Message = core.CleanString(nf.Message)
	nf.Email = core.CleanString(nf.Email, true /* lower */)
	nf.PageURL = core.CleanString(nf.PageURL)
	return validate.Struct(nf)
}

type UpdateStatus struct {
	Status Status `json:"status" validate:"required,oneof=new reviewed resolved"`
}

func (us *UpdateStatus) Validate(validate *validator.Validate) error {
	us.Status = Status(core.CleanString(string(us.Status), true /* lower */))
	return validate.Struct(us)
}

type QueryFilter struct {
	Types    []Type   `query:"type"`
	Statuses []Status `query:"status"`
	core.Pagination
}

func (qf *QueryFilter) Clean() {
	qf.Pagination.Clean(100)
}

// Match reports whether f satisfies the filter; pagination is left to the caller.
func (qf *QueryFilter) Match(f Feedback) bool {
	if len(qf.Types) > 0 && !containsType(qf.Types, f.Type) {
		return false
	}
	if len(qf.Statuses) > 0 && !containsStatus(qf.Statuses, f.Status) {
		return false
	}
	return true
}

// ErrorReport is a client-side crash reported by the frontend error boundary.
type ErrorReport struct {
	ID             string                 `json:"id"`
	Message        string                 `json:"message"`
	Stack          string                 `json:"stack,omitempty"`
	ComponentStack string                 `json:"component_stack,omitempty"`
	URL            string                 `json:"url,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	Level          Level                  `json:"level"`
	Context        map[string]interface{} `json:"context,omitempty"`
	CreatedAt      time.Time              `json:"created_at"` // UTC
}

type NewErrorReport struct {
	Message        string                 `json:"message" validate:"required,notblank,max=2000"`
	Stack          string                 `json:"stack" validate:"max=20000"`
	ComponentStack string                 `json:"component_stack" validate:"max=20000"`
	URL            string                 `json:"url" validate:"omitempty,url,max=2048"`
	Level          Level                  `json:"level" validate:"omitempty,oneof=fatal error warning info"`
	Context        map[string]interface{} `json:"context" validate:"max=50"`
}

func (nr *NewErrorReport) Validate(validate *validator.Validate) error {
	nr.Message = core.CleanString(nr.Message)
	nr.URL = core.CleanString(nr.URL)
	nr.Level = Level(core.CleanString(string(nr.Level), true /* lower */))
	if nr.Level == "" {
		nr.Level = LevelError
	}
	return validate.Struct(nr)
}

type ErrorReportFilter struct {
	Levels []Level `query:"level"`
	core.Pagination
}

func (ef *ErrorReportFilter) Clean() {
	ef.Pagination.Clean(100)
}

func (ef *ErrorReportFilter) Match(r ErrorReport) bool {
	if len(ef.Levels) == 0 {
		return true
	}
	for _, l := range ef.Levels {
		if r.Level == l {
			return true
		}
	}
	return false
}

func containsType(list []Type, t Type) bool {
	for _, item := range list {
		if item == t {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, s Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
