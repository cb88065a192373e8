package main

import (
	"context"
	"fmt"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/database"
	"github.com/digitaldrywood/taskpulse/internal/export"
	"github.com/digitaldrywood/taskpulse/internal/google"
	"github.com/digitaldrywood/taskpulse/internal/graph"
	"github.com/digitaldrywood/taskpulse/internal/job"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

// app holds the components every command shares.
type app struct {
	db       *database.DB
	manager  *auth.Manager
	graph    *graph.Client
	engine   *analytics.Engine
	pipeline *job.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	if err := cfg.RequireOAuth(); err != nil {
		return nil, err
	}
	if err := cfg.RequireSources(); err != nil {
		return nil, err
	}

	db, err := database.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		db: db,
		manager: auth.NewManager(auth.Config{
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			TenantID:      cfg.TenantID,
			RedirectURL:   cfg.RedirectURI,
			Scopes:        cfg.Scopes,
			AuthorityHost: cfg.AuthorityHost,
		}, nil),
		graph:  graph.NewClient(cfg.GraphEndpoint, cfg.SharePointHostname, nil),
		engine: analytics.NewEngine(cfg.Location, cfg.ExcludedUsers),
	}

	sinks := []job.Sink{export.NewDriveSink(a.graph, cfg.ExportDrive, cfg.ExportPath, cfg.ExportSheet)}
	if cfg.SheetsMirrorEnabled() {
		svc, err := google.NewSheetsService(ctx, cfg.GoogleCredentialsPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, google.NewSheetsMirror(svc, cfg.GoogleSpreadsheetID, cfg.GoogleSheetTab))
		logger.Info("google sheets mirror enabled", "spreadsheet", cfg.GoogleSpreadsheetID, "tab", cfg.GoogleSheetTab)
	}

	a.pipeline = job.NewPipeline(a.graph, cfg.Sources, a.engine, db, sinks...)
	return a, nil
}

// serviceAuth picks the identity unattended runs use.
func (a *app) serviceAuth(ctx context.Context) (*job.ServiceAuth, error) {
	stored, ok, err := a.db.ServiceCredential(ctx, job.ServiceCredentialName)
	if err != nil {
		return nil, fmt.Errorf("failed to read service credential: %w", err)
	}
	if cfg.ServiceRefreshToken != "" || (ok && stored.RefreshToken != "") {
		return job.NewDelegatedAuth(ctx, a.manager, a.db, cfg.ServiceRefreshToken)
	}

	logger.Info("no delegated service credential; using the client credentials grant")
	return job.NewAppAuth(auth.NewAppAuthorizer(auth.Config{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		TenantID:      cfg.TenantID,
		AuthorityHost: cfg.AuthorityHost,
	}, nil)), nil
}

// exportAuth is serviceAuth for runs that write the export, which an
// application token cannot do through /me.
func (a *app) exportAuth(ctx context.Context) (*job.ServiceAuth, error) {
	identity, err := a.serviceAuth(ctx)
	if err != nil {
		return nil, err
	}
	if !identity.Delegated() {
		if err := cfg.RequireAppExport(); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
