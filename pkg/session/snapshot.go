package session

import (
	"slices"
	"time"

	"github.com/mikeboe/sales-research/pkg/research"
)

// Status is the lifecycle state of a research session.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further updates are accepted in this state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID      string            `json:"session_id"`
	TargetID       string            `json:"target_id"`
	TargetName     string            `json:"target_name"`
	Status         Status            `json:"status"`
	Progress       int               `json:"progress"`
	CurrentStep    string            `json:"current_step"`
	StepsCompleted int               `json:"steps_completed"`
	TotalSteps     int               `json:"total_steps"`
	StartTime      time.Time         `json:"start_time"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletionTime *time.Time        `json:"completion_time,omitempty"`
	ErrorTime      *time.Time        `json:"error_time,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	FieldsFound    []research.Field  `json:"fields_found"`
	FieldsMissing  []research.Field  `json:"fields_remaining"`
	Results        research.FieldSet `json:"results"`
}

func (s Snapshot) clone() Snapshot {
	cp := s
	cp.Results = s.Results.Validated()
	cp.FieldsFound = slices.Clone(s.FieldsFound)
	cp.FieldsMissing = slices.Clone(s.FieldsMissing)
	if s.CompletionTime != nil {
		t := *s.CompletionTime
		cp.CompletionTime = &t
	}
	if s.ErrorTime != nil {
		t := *s.ErrorTime
		cp.ErrorTime = &t
	}
	return cp
}

// Patch is a partial update of a snapshot. Nil fields are left unchanged;
// Results is merged into the accumulated results rather than replacing them.
type Patch struct {
	Status         *Status
	Progress       *int
	CurrentStep    *string
	StepsCompleted *int
	Results        *research.FieldSet
	ErrorMessage   *string
}

func (p Patch) apply(s *Snapshot, now time.Time) {
	if p.Status != nil {
		s.Status = *p.Status
		switch *p.Status {
		case StatusCompleted:
			s.CompletionTime = &now
		case StatusError:
			s.ErrorTime = &now
		}
	}
	if p.Progress != nil {
		s.Progress = clamp(*p.Progress, 0, 100)
	}
	if p.CurrentStep != nil {
		s.CurrentStep = *p.CurrentStep
	}
	if p.StepsCompleted != nil {
		s.StepsCompleted = clamp(*p.StepsCompleted, 0, s.TotalSteps)
	}
	if p.Results != nil {
		s.Results = research.Merge(s.Results, *p.Results)
	}
	if p.ErrorMessage != nil {
		s.ErrorMessage = *p.ErrorMessage
	}
	s.FieldsFound = s.Results.Found()
	s.FieldsMissing = s.Results.Missing()
	s.UpdatedAt = now
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}
