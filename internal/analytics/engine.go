// Package analytics turns flattened task records into completion counts.
// Every operation is a pure function of its records and one instant taken
// from the engine clock at the start of the call.
package analytics

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/digitaldrywood/taskpulse/internal/models"
)

// StatusReceived marks an order as received, independent of its submission
// outcome.
const StatusReceived = "Received"

// Bucket holds the counts for one group of records. Completed, Pending and
// Missed always sum to Total.
type Bucket struct {
	Total     int `json:"total_tasks"`
	Completed int `json:"tasks_completed"`
	Pending   int `json:"tasks_pending"`
	Missed    int `json:"tasks_missed"`
	Received  int `json:"orders_received"`
}

func (b *Bucket) add(r models.Record, o Outcome) {
	b.Total++
	switch o {
	case Submitted:
		b.Completed++
	case Missed:
		b.Missed++
	default:
		b.Pending++
	}
	if strings.TrimSpace(r.Status()) == StatusReceived {
		b.Received++
	}
}

// Overall is the bucket over every record plus the number of distinct
// assignees.
type Overall struct {
	Bucket
	Users int `json:"total_users"`
}

// Team is the flat totals and the per-user breakdown from one pass.
type Team struct {
	Overall Overall           `json:"overall"`
	Users   map[string]Bucket `json:"users"`
}

type Engine struct {
	loc      *time.Location
	now      func() time.Time
	excluded map[string]struct{}
}

// NewEngine returns an engine evaluating dates in loc. Names in excluded are
// left out of PerUser and the export ranking; the match is exact.
func NewEngine(loc *time.Location, excluded []string) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		loc:      loc,
		now:      time.Now,
		excluded: lo.SliceToMap(excluded, func(name string) (string, struct{}) { return name, struct{}{} }),
	}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now is the current instant in the engine's location.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// Excluded reports whether name is on the exclusion list.
func (e *Engine) Excluded(name string) bool {
	_, ok := e.excluded[name]
	return ok
}

func (e *Engine) Overall(records []models.Record) Overall {
	now := e.Now()

	var out Overall
	for _, r := range records {
		out.add(r, Classify(r, now, e.loc, false))
	}
	out.Users = len(lo.Uniq(lo.FilterMap(records, func(r models.Record, _ int) (string, bool) {
		return r.Assignee()
	})))
	return out
}

func (e *Engine) PerUser(records []models.Record) map[string]Bucket {
	now := e.Now()

	out := make(map[string]Bucket)
	for _, r := range records {
		user := r.AssignedTo()
		if e.Excluded(user) {
			continue
		}
		b := out[user]
		b.add(r, Classify(r, now, e.loc, false))
		out[user] = b
	}
	return out
}

// SingleUser counts the records assigned to exactly username. A "done"
// status counts as submitted here.
func (e *Engine) SingleUser(records []models.Record, username string) Bucket {
	now := e.Now()

	var out Bucket
	for _, r := range records {
		if v, ok := r.Assignee(); !ok || v != username {
			continue
		}
		out.add(r, Classify(r, now, e.loc, true))
	}
	return out
}

func (e *Engine) Team(records []models.Record) Team {
	now := e.Now()

	team := Team{Users: make(map[string]Bucket)}
	seen := make(map[string]struct{})
	for _, r := range records {
		o := Classify(r, now, e.loc, false)
		team.Overall.add(r, o)

		if v, ok := r.Assignee(); ok {
			seen[v] = struct{}{}
		}
		user := r.AssignedTo()
		b := team.Users[user]
		b.add(r, o)
		team.Users[user] = b
	}
	team.Overall.Users = len(seen)
	return team
}
