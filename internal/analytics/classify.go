package analytics

import (
	"strings"
	"time"

	"github.com/digitaldrywood/taskpulse/internal/models"
)

// Outcome is the single bucket a record falls into at a given instant.
type Outcome int

const (
	Pending Outcome = iota
	Submitted
	Missed
)

func (o Outcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case Missed:
		return "missed"
	default:
		return "pending"
	}
}

// dateLayouts are tried in order. Layouts without a zone are read in the
// engine's location.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate reads the date formats list items carry. ok is false for empty
// or unparsable input.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Classify places a record relative to now. acceptDone additionally treats
// a "done" submission status as submitted.
func Classify(r models.Record, now time.Time, loc *time.Location, acceptDone bool) Outcome {
	status := strings.TrimSpace(r.SubmissionStatus())
	if strings.EqualFold(status, "submitted") || (acceptDone && strings.EqualFold(status, "done")) {
		return Submitted
	}
	if due, ok := ParseDate(r.BCD(), loc); ok && due.Before(now) {
		return Missed
	}
	return Pending
}
