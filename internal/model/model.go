package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SessionState is the check-in mode a teacher has selected for a session.
type SessionState int

const (
	SessionClosed     SessionState = 0
	SessionOpen       SessionState = 1
	SessionLateWindow SessionState = 2
)

func (s SessionState) Valid() bool {
	return s == SessionClosed || s == SessionOpen || s == SessionLateWindow
}

func (s SessionState) String() string {
	switch s {
	case SessionClosed:
		return "closed"
	case SessionOpen:
		return "open"
	case SessionLateWindow:
		return "late"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// AttendanceState is the per-student outcome of a session.
type AttendanceState int

const (
	Absent  AttendanceState = 0
	Present AttendanceState = 1
	Late    AttendanceState = 2
)

func (s AttendanceState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Late:
		return "late"
	}
	return fmt.Sprintf("AttendanceState(%d)", int(s))
}

// AttendanceFor maps the session mode at submission time to the recorded state.
func AttendanceFor(s SessionState) AttendanceState {
	switch s {
	case SessionOpen:
		return Present
	case SessionLateWindow:
		return Late
	}
	return Absent
}

// Role is a user's relationship to a classroom.
type Role int

const (
	RoleOwner   Role = 1
	RoleStudent Role = 2
)

// Classroom is stored at classroom/{cid}.
type Classroom struct {
	ID          string  `json:"-"`
	OwnerID     string  `json:"ownerId" validate:"required"`
	Code        string  `json:"code" validate:"required,max=32"`
	Name        string  `json:"name" validate:"required,max=200"`
	Room        string  `json:"room" validate:"max=64"`
	AttendScore float64 `json:"attendScore" validate:"gte=0"`
	LateScore   float64 `json:"lateScore" validate:"gte=0,ltefield=AttendScore"`
}

// Label is the "code name" string shown next to open questions.
func (c Classroom) Label() string {
	if c.Code == "" {
		return c.Name
	}
	return c.Code + " " + c.Name
}

// CheckinSession is stored at classroom/{cid}/checkin/{sid}.
type CheckinSession struct {
	ID          string       `json:"-"`
	Code        string       `json:"code" validate:"required,max=64"`
	ScheduledAt time.Time    `json:"scheduledAt" validate:"required"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// AttendanceRecord is stored at classroom/{cid}/checkin/{sid}/students/{uid}.
type AttendanceRecord struct {
	StudentID        string          `json:"studentId" validate:"required"`
	StudentDisplayID string          `json:"studentDisplayId"`
	Name             string          `json:"name"`
	SubmittedAt      *time.Time      `json:"submittedAt,omitempty"`
	AwardedScore     float64         `json:"awardedScore" validate:"gte=0"`
	Remark           string          `json:"remark"`
	State            AttendanceState `json:"attendanceState"`
}

// Question is stored at classroom/{cid}/checkin/{sid}/question/{qid}.
type Question struct {
	ID         string     `json:"-"`
	SequenceNo int        `json:"sequenceNo" validate:"gte=1"`
	Text       string     `json:"text" validate:"required"`
	Visible    bool       `json:"visible"`
	ShownAt    *time.Time `json:"shownAt,omitempty"`
}

// Answer is stored at classroom/{cid}/checkin/{sid}/question/{qid}/answers/{aid}.
type Answer struct {
	ID               string    `json:"-"`
	StudentID        string    `json:"studentId" validate:"required"`
	StudentDisplayID string    `json:"studentDisplayId"`
	Text             string    `json:"text" validate:"required,max=2000"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// Enrollment is one entry of the cached classroom map on a user profile.
type Enrollment struct {
	Role Role `json:"role"`
}

// UserProfile is stored at users/{uid}. Classrooms is a denormalised cache of
// the classroom/{cid}/students membership documents.
type UserProfile struct {
	ID         string                `json:"-"`
	Name       string                `json:"name" validate:"required,max=200"`
	StudentID  string                `json:"studentId" validate:"max=64"`
	Classrooms map[string]Enrollment `json:"classroom,omitempty"`
}

// Member is stored at classroom/{cid}/students/{uid}.
type Member struct {
	ID        string `json:"-"`
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Verified  bool   `json:"verified"`
}

// Validate runs the struct tags of v.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q check", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

// Fields converts an entity into the map form written to the document store.
func Fields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode fills v from document fields.
func Decode(fields map[string]any, v any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
