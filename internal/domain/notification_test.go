package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SENT", want: StatusSent},
		{name: "valid lowercase with spaces", input: " queued ", want: StatusQueued},
		{name: "completed success", input: "completed_success", want: StatusCompletedSuccess},
		{name: "invalid", input: "delivered", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanTransitionForwardOnly(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusQueued},
		{StatusDraft, StatusScheduled},
		{StatusScheduled, StatusQueued},
		{StatusQueued, StatusScheduled},
		{StatusQueued, StatusSending},
		{StatusSending, StatusSent},
		{StatusSending, StatusFailed},
		{StatusSent, StatusCompletedSuccess},
		{StatusSent, StatusCompletedWithErrors},
		{StatusCompletedWithErrors, StatusSending},
		{StatusFailed, StatusSending},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusCompletedSuccess, StatusSending},
		{StatusCompletedSuccess, StatusQueued},
		{StatusSent, StatusQueued},
		{StatusSending, StatusDraft},
		{StatusFailed, StatusQueued},
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}

func TestTransitionSources(t *testing.T) {
	t.Parallel()

	sources := TransitionSources(StatusCompletedSuccess)
	if len(sources) != 1 || sources[0] != StatusSent {
		t.Fatalf("TransitionSources(COMPLETED_SUCCESS) = %v, want [SENT]", sources)
	}

	for _, source := range TransitionSources(StatusSending) {
		if source == StatusCompletedSuccess {
			t.Fatal("COMPLETED_SUCCESS must never be a source for SENDING")
		}
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	base := Notification{
		Title:  "Nouvelle actualité",
		Body:   "hello",
		Status: StatusDraft,
	}

	tests := []struct {
		name    string
		mutate  func(*Notification)
		wantErr bool
	}{
		{
			name:   "valid notification",
			mutate: func(n *Notification) {},
		},
		{
			name: "missing title",
			mutate: func(n *Notification) {
				n.Title = "  "
			},
			wantErr: true,
		},
		{
			name: "missing body",
			mutate: func(n *Notification) {
				n.Body = ""
			},
			wantErr: true,
		},
		{
			name: "title over limit",
			mutate: func(n *Notification) {
				n.Title = strings.Repeat("a", MaxTitleLength+1)
			},
			wantErr: true,
		},
		{
			name: "rune-aware title length accepted",
			mutate: func(n *Notification) {
				n.Title = strings.Repeat("é", MaxTitleLength)
			},
		},
		{
			name: "invalid status",
			mutate: func(n *Notification) {
				n.Status = Status("DELIVERED")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}
