package analytics

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/digitaldrywood/taskpulse/internal/models"
)

// ExportHeader is the first row of the persisted analytics sheet.
var ExportHeader = []string{
	"Priority", "User", "total_tasks", "tasks_completed", "tasks_pending",
	"tasks_missed", "orders_received", "last_assigned_date",
}

// Ranked is one user's row in the priority order. LastAssigned is zero when
// none of the user's records carries an assignment date.
type Ranked struct {
	Priority     int       `json:"priority"`
	User         string    `json:"user"`
	Bucket       Bucket    `json:"counts"`
	LastAssigned time.Time `json:"last_assigned_date"`
}

// Idle returns how long the user has gone without a new assignment.
func (r Ranked) Idle(now time.Time) (time.Duration, bool) {
	if r.LastAssigned.IsZero() {
		return 0, false
	}
	return now.Sub(r.LastAssigned), true
}

// Rank orders the non-excluded users by ascending pending count, then by
// descending idle time. Users never assigned a dated task count as the most
// idle; remaining ties go by name.
func (e *Engine) Rank(records []models.Record) []Ranked {
	buckets := e.PerUser(records)

	last := make(map[string]time.Time)
	for _, r := range records {
		d, ok := ParseDate(r.AssignmentDate(), e.loc)
		if !ok {
			continue
		}
		user := r.AssignedTo()
		if d.After(last[user]) {
			last[user] = d
		}
	}

	out := lo.MapToSlice(buckets, func(user string, b Bucket) Ranked {
		return Ranked{User: user, Bucket: b, LastAssigned: last[user]}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Bucket.Pending != b.Bucket.Pending {
			return a.Bucket.Pending < b.Bucket.Pending
		}
		// An earlier last assignment means more idle time.
		if !a.LastAssigned.Equal(b.LastAssigned) {
			return a.LastAssigned.Before(b.LastAssigned)
		}
		return a.User < b.User
	})
	for i := range out {
		out[i].Priority = i + 1
	}
	return out
}

// Table renders ranked users as sheet rows, header first.
func Table(ranked []Ranked) [][]any {
	rows := make([][]any, 0, len(ranked)+1)
	rows = append(rows, lo.Map(ExportHeader, func(h string, _ int) any { return h }))
	for _, r := range ranked {
		last := ""
		if !r.LastAssigned.IsZero() {
			last = r.LastAssigned.Format("2006-01-02")
		}
		rows = append(rows, []any{
			r.Priority, r.User, r.Bucket.Total, r.Bucket.Completed, r.Bucket.Pending,
			r.Bucket.Missed, r.Bucket.Received, last,
		})
	}
	return rows
}
