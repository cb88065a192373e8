// Package job recomputes the per-user analytics table and writes it to the
// configured sinks, on demand or on a fixed interval.
package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/config"
	"github.com/digitaldrywood/taskpulse/internal/database"
	"github.com/digitaldrywood/taskpulse/internal/logger"
	"github.com/digitaldrywood/taskpulse/internal/models"
)

// Triggers recorded with each run.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// RecordSource reads flattened list items.
type RecordSource interface {
	ListRecords(ctx context.Context, a auth.Authorizer, site, list string) ([]models.Record, error)
}

// Sink persists the analytics table, replacing what was there.
type Sink interface {
	Name() string
	Write(ctx context.Context, a auth.Authorizer, rows [][]any) error
}

// RunStore records run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *database.Run) error
	FinishRun(ctx context.Context, run *database.Run) error
}

// Result describes one finished run.
type Result struct {
	RunID   string
	Records int
	Ranked  []analytics.Ranked
}

type Pipeline struct {
	source  RecordSource
	sources []config.Source
	engine  *analytics.Engine
	runs    RunStore
	sinks   []Sink
}

// NewPipeline wires a recompute. runs may be nil.
func NewPipeline(source RecordSource, sources []config.Source, engine *analytics.Engine, runs RunStore, sinks ...Sink) *Pipeline {
	return &Pipeline{
		source:  source,
		sources: sources,
		engine:  engine,
		runs:    runs,
		sinks:   sinks,
	}
}

// Fetch reads every configured source concurrently and concatenates the
// records in source order.
func (p *Pipeline) Fetch(ctx context.Context, a auth.Authorizer) ([]models.Record, error) {
	parts := make([][]models.Record, len(p.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range p.sources {
		i, src := i, src
		g.Go(func() error {
			recs, err := p.source.ListRecords(gctx, a, src.Site, src.List)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", src, err)
			}
			parts[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Record
	for _, recs := range parts {
		all = append(all, recs...)
	}
	return all, nil
}

// Run performs one recompute: fetch, rank, then write the table to every
// sink. Sink failures are combined; one failing sink does not stop the
// others.
func (p *Pipeline) Run(ctx context.Context, a auth.Authorizer, trigger string) (*Result, error) {
	run := &database.Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    database.RunRunning,
	}
	log := logger.With("run_id", run.ID, "trigger", trigger)
	log.Info("recompute started")
	p.record(ctx, run, nil)

	res, err := p.run(ctx, a)
	run.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}
	if res != nil {
		res.RunID = run.ID
		run.UsersWritten = len(res.Ranked)
	}
	if err != nil {
		run.Status = database.RunFailed
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		log.Error("recompute failed", "error", err, "duration", run.Duration(), "at", run.FinishedAt.Time.Format(time.RFC3339))
	} else {
		run.Status = database.RunSucceeded
		log.Info("recompute finished", "records", res.Records, "users", run.UsersWritten, "duration", run.Duration())
	}
	p.record(ctx, run, run)

	return res, err
}

func (p *Pipeline) run(ctx context.Context, a auth.Authorizer) (*Result, error) {
	records, err := p.Fetch(ctx, a)
	if err != nil {
		return nil, err
	}

	ranked := p.engine.Rank(records)
	rows := analytics.Table(ranked)

	var errs error
	for _, s := range p.sinks {
		if err := s.Write(ctx, a, rows); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	return &Result{Records: len(records), Ranked: ranked}, errs
}

// record writes run history; finished is nil for the initial insert.
func (p *Pipeline) record(ctx context.Context, run, finished *database.Run) {
	if p.runs == nil {
		return
	}

	// History is written even when the run's context is already done.
	ctx = context.WithoutCancel(ctx)
	var err error
	if finished == nil {
		err = p.runs.CreateRun(ctx, run)
	} else {
		err = p.runs.FinishRun(ctx, finished)
	}
	if err != nil {
		logger.Warn("failed to record recompute run", "run_id", run.ID, "error", err)
	}
}
