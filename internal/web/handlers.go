package web

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/graph"
	"github.com/digitaldrywood/taskpulse/internal/job"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

func (s *Server) authorizer(r *http.Request) auth.Authorizer {
	return s.manager.For(sessionFrom(r.Context()))
}

// fail maps gateway errors onto responses: auth problems ask for a new
// sign-in, upstream write failures are reported as bad gateway.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *graph.UpstreamError
	switch {
	case graph.IsAuthError(err):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required", "login": "/login"})
	case errors.As(err, &upstream):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Sign-in ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.manager.AuthorizedHeaders(r.Context(), sessionFrom(r.Context())); ok {
		http.Redirect(w, r, "/api/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	sessionFrom(r.Context()).SetState(state)
	http.Redirect(w, r, s.manager.AuthorizationURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	q := r.URL.Query()

	expected := sess.TakeState()
	if expected == "" || q.Get("state") != expected {
		logger.Warn("oauth callback with unexpected state")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login failed", "login": "/login"})
		return
	}
	if e := q.Get("error"); e != "" {
		logger.Warn("identity provider returned an error", "error", e, "description", q.Get("error_description"))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login failed", "login": "/login"})
		return
	}

	code := q.Get("code")
	if code == "" || !s.manager.Exchange(r.Context(), sess, code) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login failed", "login": "/login"})
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sess.Clear()
	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		logger.Warn("failed to delete session", "error", err)
	}
	sess.MarkClean()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// --- Analytics ---

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	records, err := s.pipeline.Fetch(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overall":  s.engine.Overall(records),
		"per_user": s.engine.PerUser(records),
	})
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	records, err := s.pipeline.Fetch(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Team(records))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	records, err := s.pipeline.Fetch(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   username,
		"counts": s.engine.SingleUser(records, username),
	})
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	if len(s.opts.Sources) == 0 {
		writeJSONError(w, http.StatusNotFound, "no sources configured")
		return
	}
	src := s.opts.Sources[0]

	records, err := s.gateway.ListRecords(r.Context(), s.authorizer(r), src.Site, src.List)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	columns := []string{}
	if len(records) > 0 {
		columns = lo.Keys(records[0])
		sort.Strings(columns)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  src.String(),
		"columns": columns,
		"items":   records,
	})
}

// --- Drive and workbooks ---

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.gateway.DriveChildren(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if files == nil {
		files = []graph.DriveItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// tableCells resolves ?path= and optional ?table= to cell lists. Without a
// table every table of the workbook is read, in workbook order.
func (s *Server) tableCells(r *http.Request) ([]string, [][]any, error) {
	ctx, a := r.Context(), s.authorizer(r)
	path := r.URL.Query().Get("path")

	names := []string{}
	if table := r.URL.Query().Get("table"); table != "" {
		names = append(names, table)
	} else {
		tables, err := s.gateway.WorkbookTables(ctx, a, path)
		if err != nil {
			return nil, nil, err
		}
		names = lo.Map(tables, func(t graph.Table, _ int) string { return t.Name })
	}

	cells := [][]any{}
	for _, name := range names {
		rows, err := s.gateway.TableRows(ctx, a, path, name)
		if err != nil {
			return nil, nil, err
		}
		for _, row := range rows {
			cells = append(cells, row.Cells())
		}
	}
	return names, cells, nil
}

func (s *Server) handleExcelData(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("path") == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}

	tables, cells, err := s.tableCells(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables, "rows": cells})
}

// defaultWorkloadFile is read from the caller's own drive when no path is
// given.
const defaultWorkloadFile = "Sharepoint Datas.xlsx"

func (s *Server) handleWorkload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("path") == "" {
		id, err := s.gateway.MyUserID(r.Context(), s.authorizer(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if id == "" {
			writeJSONError(w, http.StatusBadRequest, "cannot resolve the signed-in user; pass path")
			return
		}
		q := r.URL.Query()
		q.Set("path", fmt.Sprintf("/users/%s/drive/root:/%s", id, defaultWorkloadFile))
		r.URL.RawQuery = q.Encode()
	}

	tables, cells, err := s.tableCells(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   r.URL.Query().Get("path"),
		"tables": tables,
		"users":  s.engine.Workload(cells),
	})
}

// --- Directory ---

type directoryEntry struct {
	graph.User
	Excluded bool `json:"excluded"`
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	users, err := s.gateway.UsersWithPhotos(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	entries := lo.Map(users, func(u graph.User, _ int) directoryEntry {
		return directoryEntry{User: u, Excluded: s.engine.Excluded(u.DisplayName)}
	})
	writeJSON(w, http.StatusOK, map[string]any{"users": entries})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := s.gateway.MyUserID(r.Context(), s.authorizer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// --- Recompute ---

// handleRecompute runs the export with the caller's credential. It races
// the scheduler; whichever write lands last wins.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Run(r.Context(), s.authorizer(r), job.TriggerManual)
	if err != nil {
		if graph.IsAuthError(err) {
			s.fail(w, r, err)
			return
		}
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  res.RunID,
		"records": res.Records,
		"users":   len(res.Ranked),
		"ranking": lo.Map(res.Ranked, func(rk analytics.Ranked, _ int) string { return rk.User }),
	})
}

type runView struct {
	ID           string `json:"id"`
	Trigger      string `json:"trigger"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	Age          string `json:"age"`
	Duration     string `json:"duration,omitempty"`
	UsersWritten int    `json:"users_written"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(r.Context(), 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		v := runView{
			ID:           run.ID,
			Trigger:      run.Trigger,
			Status:       run.Status,
			StartedAt:    run.StartedAt.Format(time.RFC3339),
			Age:          humanize.Time(run.StartedAt),
			UsersWritten: run.UsersWritten,
			Error:        run.Error.String,
		}
		if d := run.Duration(); d > 0 {
			v.Duration = d.Round(time.Millisecond).String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}
