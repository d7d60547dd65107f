package patient

import (
	"context"
	"fmt"
)

// NoticeKind distinguishes confirmation from failure notices.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeFailure NoticeKind = "failure"
)

// Notice is the user-visible message produced by an intake.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	PatientID string     `json:"patientId,omitempty"`
	Name      string     `json:"name"`
	Level     int        `json:"triageLevel,omitempty"`
}

// Notifier fans a notice out to an external channel (e.g. Slack).
type Notifier interface {
	Notify(ctx context.Context, n *Notice) error
}

func admittedNotice(r *Record) *Notice {
	return &Notice{
		Kind:      NoticeSuccess,
		Message:   fmt.Sprintf("%s (%d) added to queue with priority %d and pain level %d/10", r.Name, r.Age, r.TriageLevel, r.Vitals.PainLevel),
		PatientID: r.ID,
		Name:      r.Name,
		Level:     int(r.TriageLevel),
	}
}

// failedNotice deliberately omits the underlying cause.
func failedNotice(r *Record) *Notice {
	return &Notice{
		Kind:    NoticeFailure,
		Message: fmt.Sprintf("Failed to add %s to the queue. Please try again.", r.Name),
		Name:    r.Name,
		Level:   int(r.TriageLevel),
	}
}
