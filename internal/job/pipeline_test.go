package job

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/config"
	"github.com/digitaldrywood/taskpulse/internal/database"
	"github.com/digitaldrywood/taskpulse/internal/models"
)

type staticAuthorizer struct{}

func (staticAuthorizer) AuthorizedHeaders(ctx context.Context) (http.Header, bool) {
	return http.Header{"Authorization": {"Bearer t"}}, true
}

func (staticAuthorizer) RefreshAccessToken(ctx context.Context, rejected string) (string, bool) {
	return "t", true
}

type fakeSource struct {
	records map[string][]models.Record
	err     error
}

func (f *fakeSource) ListRecords(ctx context.Context, a auth.Authorizer, site, list string) ([]models.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[site+"/"+list], nil
}

type fakeSink struct {
	name string
	err  error

	mu   sync.Mutex
	rows [][]any
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(ctx context.Context, a auth.Authorizer, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	return f.err
}

func testEngine() *analytics.Engine {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return analytics.NewEngine(time.UTC, []string{"Admin"}).WithClock(func() time.Time { return now })
}

func testSource() *fakeSource {
	return &fakeSource{records: map[string][]models.Record{
		"Team/Proposals": {
			{"AssignedTo": "Ann", "SubmissionStatus": "Submitted"},
			{"AssignedTo": "Bob", "BCD": "2099-01-01"},
			{"AssignedTo": "Admin"},
		},
		"Team/Archive": {
			{"AssignedTo": "Ann", "BCD": "2020-01-01"},
		},
	}}
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	drive, mirror := &fakeSink{name: "drive"}, &fakeSink{name: "mirror"}
	sources := []config.Source{{Site: "Team", List: "Proposals"}, {Site: "Team", List: "Archive"}}
	p := NewPipeline(testSource(), sources, testEngine(), db, drive, mirror)

	res, err := p.Run(ctx, staticAuthorizer{}, TriggerManual)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Records != 4 {
		t.Errorf("Records = %d, want 4", res.Records)
	}
	if len(res.Ranked) != 2 {
		t.Fatalf("Ranked = %d users, want 2 (Admin excluded)", len(res.Ranked))
	}

	for _, s := range []*fakeSink{drive, mirror} {
		if len(s.rows) != 3 {
			t.Errorf("%s got %d rows, want header + 2", s.name, len(s.rows))
		}
	}
	// Ann has nothing pending, so she comes first.
	if drive.rows[1][1] != "Ann" {
		t.Errorf("first ranked row = %v", drive.rows[1])
	}

	runs, err := db.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ID != res.RunID || runs[0].Status != database.RunSucceeded || runs[0].UsersWritten != 2 || runs[0].Trigger != TriggerManual {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestPipelineSinkErrorsCombined(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	bad1 := &fakeSink{name: "drive", err: errors.New("drive down")}
	good := &fakeSink{name: "ok"}
	bad2 := &fakeSink{name: "mirror", err: errors.New("quota")}
	p := NewPipeline(testSource(), []config.Source{{Site: "Team", List: "Proposals"}}, testEngine(), db, bad1, good, bad2)

	_, err = p.Run(ctx, staticAuthorizer{}, TriggerSchedule)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "drive down") || !strings.Contains(err.Error(), "quota") {
		t.Errorf("error = %v, want both sink errors", err)
	}
	if good.rows == nil {
		t.Error("healthy sink was skipped")
	}

	runs, _ := db.RecentRuns(ctx, 5)
	if len(runs) != 1 || runs[0].Status != database.RunFailed || !runs[0].Error.Valid {
		t.Errorf("runs = %+v", runs)
	}
}

func TestPipelineFetchError(t *testing.T) {
	sink := &fakeSink{name: "drive"}
	src := &fakeSource{err: errors.New("unauthenticated")}
	p := NewPipeline(src, []config.Source{{Site: "Team", List: "Proposals"}}, testEngine(), nil, sink)

	if _, err := p.Run(context.Background(), staticAuthorizer{}, TriggerCLI); err == nil {
		t.Fatal("expected error")
	}
	if sink.rows != nil {
		t.Error("sink written after failed fetch")
	}
}
