package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusQueued              Status = "QUEUED"
	StatusScheduled           Status = "SCHEDULED"
	StatusSending             Status = "SENDING"
	StatusSent                Status = "SENT"
	StatusFailed              Status = "FAILED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusCompletedSuccess    Status = "COMPLETED_SUCCESS"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusQueued, StatusScheduled, StatusSending,
		StatusSent, StatusFailed, StatusCompletedWithErrors, StatusCompletedSuccess:
		return true
	}
	return false
}

// IsTerminal reports whether no component may move the notification further.
// FAILED and COMPLETED_WITH_ERRORS can still be repaired by an explicit
// re-send, so only COMPLETED_SUCCESS is strictly terminal.
func (s Status) IsTerminal() bool {
	return s == StatusCompletedSuccess
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// statusTransitions is the forward-only notification status graph. Dispatch
// may flip between QUEUED and SCHEDULED on re-enqueue; a re-send moves any
// repairable state back through SENDING; COMPLETED_SUCCESS accepts nothing.
var statusTransitions = map[Status][]Status{
	StatusDraft:               {StatusQueued, StatusScheduled, StatusSending, StatusFailed},
	StatusQueued:              {StatusQueued, StatusScheduled, StatusSending, StatusFailed},
	StatusScheduled:           {StatusQueued, StatusScheduled, StatusSending},
	StatusSending:             {StatusSending, StatusSent, StatusCompletedWithErrors, StatusFailed},
	StatusSent:                {StatusSending, StatusCompletedSuccess, StatusCompletedWithErrors},
	StatusCompletedWithErrors: {StatusSending, StatusCompletedWithErrors},
	StatusFailed:              {StatusSending},
	StatusCompletedSuccess:    {},
}

// CanTransition reports whether a notification may move from one status to another.
func CanTransition(from Status, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which the given status is
// reachable. Repositories use it to build guarded status updates.
func TransitionSources(to Status) []Status {
	sources := make([]Status, 0, 4)
	for from, targets := range statusTransitions {
		for _, next := range targets {
			if next == to {
				sources = append(sources, from)
				break
			}
		}
	}
	return sources
}

const MaxTitleLength = 255

// Notification is one logical push message fanned out to every active token.
type Notification struct {
	ID          string
	Title       string
	Body        string
	Data        map[string]any
	Status      Status
	ScheduledAt *time.Time
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len([]rune(n.Title)) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	return nil
}
