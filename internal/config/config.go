package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Source is one SharePoint site/list pair feeding the analytics.
type Source struct {
	Site string
	List string
}

func (s Source) String() string {
	return s.Site + "/" + s.List
}

type Config struct {
	ClientID      string
	ClientSecret  string
	TenantID      string
	RedirectURI   string
	Scopes        []string
	AuthorityHost string

	GraphEndpoint      string
	SharePointHostname string
	Sources            []Source
	ExcludedUsers      []string
	Location           *time.Location

	ExportDrive string
	ExportPath  string
	ExportSheet string

	RecomputeInterval   time.Duration
	ServiceRefreshToken string

	GoogleCredentialsPath string
	GoogleSpreadsheetID   string
	GoogleSheetTab        string

	ListenAddr string
	DataDir    string
	SessionTTL time.Duration

	LogLevel  string
	LogFormat string
}

// envKeys maps config keys to the environment variables they are read from.
var envKeys = map[string]string{
	"client_id":               "CLIENT_ID",
	"client_secret":           "CLIENT_SECRET",
	"tenant_id":               "TENANT_ID",
	"redirect_uri":            "REDIRECT_URI",
	"scopes":                  "SCOPES",
	"authority_host":          "AUTHORITY_HOST",
	"graph_api_endpoint":      "GRAPH_API_ENDPOINT",
	"sharepoint_hostname":     "SHAREPOINT_HOSTNAME",
	"sources":                 "SOURCES",
	"excluded_users":          "EXCLUDED_USERS",
	"timezone":                "TIMEZONE",
	"export_drive":            "EXPORT_DRIVE",
	"export_path":             "EXPORT_PATH",
	"export_sheet":            "EXPORT_SHEET",
	"recompute_interval":      "RECOMPUTE_INTERVAL",
	"service_refresh_token":   "SERVICE_REFRESH_TOKEN",
	"google_credentials_path": "GOOGLE_CREDENTIALS_PATH",
	"google_spreadsheet_id":   "GOOGLE_SPREADSHEET_ID",
	"google_sheet_tab":        "GOOGLE_SHEET_TAB",
	"listen_addr":             "LISTEN_ADDR",
	"data_dir":                "DATA_DIR",
	"session_ttl":             "SESSION_TTL",
	"log_level":               "LOG_LEVEL",
	"log_format":              "LOG_FORMAT",
}

var defaults = map[string]any{
	"tenant_id":          "common",
	"redirect_uri":       "http://localhost:5000/callback",
	"scopes":             "User.Read Files.ReadWrite Sites.Read.All offline_access",
	"graph_api_endpoint": "https://graph.microsoft.com/v1.0",
	"sources":            "ProposalTeam/Proposals",
	"timezone":           "Asia/Dubai",
	"export_drive":       "/me/drive",
	"export_path":        "/UserAnalytics.xlsx",
	"export_sheet":       "Analytics",
	"recompute_interval": "5m",
	"google_sheet_tab":   "Analytics",
	"listen_addr":        "127.0.0.1:5000",
	"data_dir":           ".local",
	"session_ttl":        "24h",
	"log_level":          "info",
	"log_format":         "text",
}

// LoadDotEnv loads the first existing file among paths, letting its values
// override the process environment.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := gotenv.OverLoad(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// Load reads the configuration from the optional config file and the
// environment. Environment variables win over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		ClientID:              v.GetString("client_id"),
		ClientSecret:          v.GetString("client_secret"),
		TenantID:              v.GetString("tenant_id"),
		RedirectURI:           v.GetString("redirect_uri"),
		Scopes:                strings.Fields(v.GetString("scopes")),
		AuthorityHost:         strings.TrimRight(v.GetString("authority_host"), "/"),
		GraphEndpoint:         strings.TrimRight(v.GetString("graph_api_endpoint"), "/"),
		SharePointHostname:    v.GetString("sharepoint_hostname"),
		ExcludedUsers:         splitList(v.GetString("excluded_users")),
		ExportDrive:           strings.TrimRight(v.GetString("export_drive"), "/"),
		ExportPath:            v.GetString("export_path"),
		ExportSheet:           v.GetString("export_sheet"),
		ServiceRefreshToken:   v.GetString("service_refresh_token"),
		GoogleCredentialsPath: v.GetString("google_credentials_path"),
		GoogleSpreadsheetID:   v.GetString("google_spreadsheet_id"),
		GoogleSheetTab:        v.GetString("google_sheet_tab"),
		ListenAddr:            v.GetString("listen_addr"),
		DataDir:               v.GetString("data_dir"),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
	}

	var err error
	if cfg.Sources, err = parseSources(v.GetString("sources")); err != nil {
		return nil, err
	}
	if cfg.Location, err = time.LoadLocation(v.GetString("timezone")); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	if cfg.RecomputeInterval, err = time.ParseDuration(v.GetString("recompute_interval")); err != nil {
		return nil, fmt.Errorf("invalid RECOMPUTE_INTERVAL: %w", err)
	}
	if cfg.RecomputeInterval <= 0 {
		return nil, fmt.Errorf("RECOMPUTE_INTERVAL must be positive")
	}
	if cfg.SessionTTL, err = time.ParseDuration(v.GetString("session_ttl")); err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if !strings.HasPrefix(cfg.ExportPath, "/") {
		cfg.ExportPath = "/" + cfg.ExportPath
	}

	return cfg, nil
}

// RequireOAuth reports the first missing OAuth client setting.
func (c *Config) RequireOAuth() error {
	if c.ClientID == "" {
		return fmt.Errorf("CLIENT_ID environment variable is required. Set it in .env or the environment")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("CLIENT_SECRET environment variable is required. Set it in .env or the environment")
	}
	return nil
}

// RequireSources reports whether list reads can be resolved.
func (c *Config) RequireSources() error {
	if c.SharePointHostname == "" {
		return fmt.Errorf("SHAREPOINT_HOSTNAME environment variable is required to read lists")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("SOURCES must name at least one Site/List pair")
	}
	return nil
}

// RequireAppExport reports whether the export drive is reachable with an
// application token. Graph only resolves /me for delegated tokens.
func (c *Config) RequireAppExport() error {
	if c.ExportDrive == "/me" || strings.HasPrefix(c.ExportDrive, "/me/") {
		return fmt.Errorf("EXPORT_DRIVE %q needs a signed-in user; set SERVICE_REFRESH_TOKEN or point EXPORT_DRIVE at /users/{id}/drive or /sites/{id}/drive", c.ExportDrive)
	}
	return nil
}

// SheetsMirrorEnabled reports whether the Google Sheets mirror is configured.
func (c *Config) SheetsMirrorEnabled() bool {
	return c.GoogleCredentialsPath != "" && c.GoogleSpreadsheetID != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSources(s string) ([]Source, error) {
	var out []Source
	for _, pair := range splitList(s) {
		site, list, ok := strings.Cut(pair, "/")
		site, list = strings.TrimSpace(site), strings.TrimSpace(list)
		if !ok || site == "" || list == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q: want Site/List", pair)
		}
		out = append(out, Source{Site: site, List: list})
	}
	return out, nil
}
