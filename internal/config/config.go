// Package config loads application configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	GHL      GHLConfig      `mapstructure:"ghl" yaml:"ghl"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

// ServerConfig holds HTTP server settings. Timeouts are in seconds.
type ServerConfig struct {
	Port               string   `mapstructure:"port" yaml:"port"`
	ReadTimeout        int      `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       int      `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout        int      `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// DatabaseConfig selects and addresses the database.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	User       string `mapstructure:"user" yaml:"user"`
	Password   string `mapstructure:"password" yaml:"password"`
	DBName     string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode    string `mapstructure:"sslmode" yaml:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Migrations bool   `mapstructure:"migrations" yaml:"migrations"`
	Seed       bool   `mapstructure:"seed" yaml:"seed"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Env           string `mapstructure:"env" yaml:"env"`
	SessionSecret string `mapstructure:"session_secret" yaml:"session_secret"`
	AdminEmail    string `mapstructure:"admin_email" yaml:"admin_email"`
	AdminPassword string `mapstructure:"admin_password" yaml:"admin_password"`
}

// GHLConfig configures the GoHighLevel CRM integration.
type GHLConfig struct {
	WebhookSecret string         `mapstructure:"webhook_secret" yaml:"webhook_secret"`
	APIKey        string         `mapstructure:"api_key" yaml:"api_key"`
	LocationID    string         `mapstructure:"location_id" yaml:"location_id"`
	BaseURL       string         `mapstructure:"base_url" yaml:"base_url"`
	PipelineID    string         `mapstructure:"pipeline_id" yaml:"pipeline_id"`
	Stages        GHLStages      `mapstructure:"stages" yaml:"stages"`
	Workflows     GHLWorkflows   `mapstructure:"workflows" yaml:"workflows"`
	Documents     GHLDocumentIDs `mapstructure:"documents" yaml:"documents"`
}

type GHLStages struct {
	NewLead     string `mapstructure:"new_lead" yaml:"new_lead"`
	DocsSent    string `mapstructure:"docs_sent" yaml:"docs_sent"`
	DocsPending string `mapstructure:"docs_pending" yaml:"docs_pending"`
	Review      string `mapstructure:"review" yaml:"review"`
	Active      string `mapstructure:"active" yaml:"active"`
	Declined    string `mapstructure:"declined" yaml:"declined"`
}

type GHLWorkflows struct {
	Welcome      string `mapstructure:"welcome" yaml:"welcome"`
	DocsSent     string `mapstructure:"docs_sent" yaml:"docs_sent"`
	DocsComplete string `mapstructure:"docs_complete" yaml:"docs_complete"`
	Approved     string `mapstructure:"approved" yaml:"approved"`
}

type GHLDocumentIDs struct {
	PartnerAgreement string `mapstructure:"partner_agreement" yaml:"partner_agreement"`
	W9               string `mapstructure:"w9" yaml:"w9"`
	DirectDeposit    string `mapstructure:"direct_deposit" yaml:"direct_deposit"`
}

// LLMConfig configures the onboarding agent's model.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int32   `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// RedisConfig configures the rate limiter store.
type RedisConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	RatePerMinute int    `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// IsDev reports whether the app runs in development mode.
func (a AppConfig) IsDev() bool { return strings.EqualFold(a.Env, EnvDevelopment) }

// IsProduction reports whether the app runs in production mode.
func (a AppConfig) IsProduction() bool { return strings.EqualFold(a.Env, EnvProduction) }

// Configured reports whether both the API key and location are set.
func (g GHLConfig) Configured() bool { return g.APIKey != "" && g.LocationID != "" }

// DSN returns the PostgreSQL connection string. DATABASE_URL wins when set.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MigrateURL returns the PostgreSQL connection string in URL form, as
// golang-migrate expects.
func (d DatabaseConfig) MigrateURL() string {
	if d.URL != "" {
		return d.URL
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// Configured reports whether the config addresses a database at all.
func (d DatabaseConfig) Configured() bool {
	switch d.Driver {
	case "sqlite":
		return d.SQLitePath != ""
	case "postgres":
		return d.URL != "" || (d.Host != "" && d.DBName != "")
	}
	return false
}

var (
	// envBindings maps config keys to the environment variables that may
	// provide them. The first name is preferred; later ones are aliases.
	envBindings = map[string][]string{
		"server.port":                 {"PORT"},
		"server.read_timeout":         {"SERVER_READ_TIMEOUT"},
		"server.write_timeout":        {"SERVER_WRITE_TIMEOUT"},
		"server.idle_timeout":         {"SERVER_IDLE_TIMEOUT"},
		"server.cors_allowed_origins": {"CORS_ALLOWED_ORIGINS"},

		"database.driver":      {"DB_DRIVER"},
		"database.url":         {"DATABASE_URL", "DATABASE_DSN"},
		"database.host":        {"DB_HOST"},
		"database.port":        {"DB_PORT"},
		"database.user":        {"DB_USER"},
		"database.password":    {"DB_PASSWORD"},
		"database.dbname":      {"DB_NAME"},
		"database.sslmode":     {"DB_SSLMODE"},
		"database.sqlite_path": {"SQLITE_PATH"},
		"database.migrations":  {"MIGRATIONS"},
		"database.seed":        {"DB_SEED"},
		"database.debug":       {"DB_DEBUG"},

		"app.env":            {"APP_ENV", "NODE_ENV"},
		"app.session_secret": {"SESSION_SECRET"},
		"app.admin_email":    {"ADMIN_EMAIL"},
		"app.admin_password": {"ADMIN_PASSWORD"},

		"ghl.webhook_secret":              {"GHL_WEBHOOK_SECRET"},
		"ghl.api_key":                     {"GHL_API_KEY"},
		"ghl.location_id":                 {"GHL_LOCATION_ID"},
		"ghl.base_url":                    {"GHL_BASE_URL"},
		"ghl.pipeline_id":                 {"GHL_PIPELINE_ONBOARDING_ID"},
		"ghl.stages.new_lead":             {"GHL_STAGE_NEW_LEAD"},
		"ghl.stages.docs_sent":            {"GHL_STAGE_DOCS_SENT"},
		"ghl.stages.docs_pending":         {"GHL_STAGE_DOCS_PENDING"},
		"ghl.stages.review":               {"GHL_STAGE_REVIEW"},
		"ghl.stages.active":               {"GHL_STAGE_ACTIVE"},
		"ghl.stages.declined":             {"GHL_STAGE_DECLINED"},
		"ghl.workflows.welcome":           {"GHL_WORKFLOW_WELCOME_ID"},
		"ghl.workflows.docs_sent":         {"GHL_WORKFLOW_DOCS_SENT_ID"},
		"ghl.workflows.docs_complete":     {"GHL_WORKFLOW_DOCS_COMPLETE_ID"},
		"ghl.workflows.approved":          {"GHL_WORKFLOW_APPROVED_ID"},
		"ghl.documents.partner_agreement": {"GHL_DOC_PARTNER_AGREEMENT_ID"},
		"ghl.documents.w9":                {"GHL_DOC_W9_ID"},
		"ghl.documents.direct_deposit":    {"GHL_DOC_DIRECT_DEPOSIT_ID"},

		"llm.api_key":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"llm.model":       {"LLM_MODEL"},
		"llm.temperature": {"LLM_TEMPERATURE"},
		"llm.max_tokens":  {"LLM_MAX_TOKENS"},

		"redis.url":             {"REDIS_URL"},
		"redis.rate_per_minute": {"RATE_LIMIT_PER_MINUTE"},
	}

	defaults = map[string]any{
		"server.port":          "8080",
		"server.read_timeout":  15,
		"server.write_timeout": 30,
		"server.idle_timeout":  60,

		"database.driver":      "postgres",
		"database.host":        "localhost",
		"database.port":        5432,
		"database.user":        "partners",
		"database.password":    "partners",
		"database.dbname":      "partners",
		"database.sslmode":     "disable",
		"database.sqlite_path": "partners.db",

		"app.env":         EnvDevelopment,
		"app.admin_email": "admin@example.com",

		"ghl.base_url": "https://rest.gohighlevel.com/v1",

		"llm.model":       "gemini-2.5-flash",
		"llm.temperature": 0.7,
		"llm.max_tokens":  1000,

		"redis.rate_per_minute": 30,
	}
)

// Load reads configuration. Values come, in increasing priority, from
// defaults, the optional YAML file at path, a .env file in the working
// directory and the process environment.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set.
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.CORSAllowedOrigins = splitList(cfg.Server.CORSAllowedOrigins)
	return cfg, nil
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		if err := v.BindEnv(slices.Insert(slices.Clone(envs), 0, key)...); err != nil {
			return err
		}
	}
	return nil
}

// splitList normalizes list values that may arrive as one comma-separated
// entry from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
