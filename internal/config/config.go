package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string `koanf:"host"`
	Port               string `koanf:"port"`
	User               string `koanf:"user"`
	Password           string `koanf:"password"`
	Name               string `koanf:"name"`
	SSLMode            string `koanf:"sslmode"`
	MaxOpenConns       int    `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns       int    `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeSec int    `koanf:"conn_max_lifetime_sec" validate:"gte=0"`
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// PlannerConfig selects and configures the planner implementation.
type PlannerConfig struct {
	Mode    string        `koanf:"mode" validate:"oneof=mock llm"`
	Model   string        `koanf:"model" validate:"required"`
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type ExecutorConfig struct {
	StepDelay time.Duration `koanf:"step_delay" validate:"gte=0"`
}

// OrchestratorConfig bounds the planning and correction loops.
type OrchestratorConfig struct {
	MaxPlanningTurns int `koanf:"max_planning_turns" validate:"gte=1"`
	MaxCorrections   int `koanf:"max_corrections" validate:"gte=0"`
	MaxPlanSteps     int `koanf:"max_plan_steps" validate:"gte=1"`
	MaxStoredRuns    int `koanf:"max_stored_runs" validate:"gte=1"`
}

// ArchivistConfig selects where finished runs are persisted.
type ArchivistConfig struct {
	Backend      string `koanf:"backend" validate:"oneof=jsonl sqlite postgres s3"`
	Path         string `koanf:"path"`
	SQLitePath   string `koanf:"sqlite_path"`
	ObjectPrefix string `koanf:"object_prefix"`
}

// AppConfig is the centralized configuration struct for the application.
type AppConfig struct {
	Host         string             `koanf:"host" validate:"required"`
	Port         int                `koanf:"port" validate:"gte=0,lte=65535"`
	AppDir       string             `koanf:"app_dir" validate:"required"`
	Reload       bool               `koanf:"reload"`
	Log          LogConfig          `koanf:"log"`
	Planner      PlannerConfig      `koanf:"planner"`
	Executor     ExecutorConfig     `koanf:"executor"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Archivist    ArchivistConfig    `koanf:"archivist"`
	Database     DatabaseConfig     `koanf:"database"`
	MinIO        MinIOConfig        `koanf:"minio"`
}

// Addr is the listen address for the HTTP server.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envKeys maps process environment variables onto config keys.
var envKeys = map[string]string{
	"VIMANI_HOST":              "host",
	"PORT":                     "port",
	"VIMANI_APP_DIR":           "app_dir",
	"VIMANI_RELOAD":            "reload",
	"LOG_LEVEL":                "log.level",
	"LOG_FORMAT":               "log.format",
	"VIMANI_PLANNER":           "planner.mode",
	"VIMANI_PLANNER_MODEL":     "planner.model",
	"OPENAI_API_KEY":           "planner.api_key",
	"OPENAI_BASE_URL":          "planner.base_url",
	"PLANNER_TIMEOUT":          "planner.timeout",
	"EXECUTOR_STEP_DELAY":      "executor.step_delay",
	"ORCH_MAX_PLANNING_TURNS":  "orchestrator.max_planning_turns",
	"ORCH_MAX_CORRECTIONS":     "orchestrator.max_corrections",
	"ORCH_MAX_PLAN_STEPS":      "orchestrator.max_plan_steps",
	"ORCH_MAX_STORED_RUNS":     "orchestrator.max_stored_runs",
	"ARCHIVIST_BACKEND":        "archivist.backend",
	"ARCHIVE_PATH":             "archivist.path",
	"ARCHIVE_SQLITE_PATH":      "archivist.sqlite_path",
	"ARCHIVE_OBJECT_PREFIX":    "archivist.object_prefix",
	"DB_HOST":                  "database.host",
	"DB_PORT":                  "database.port",
	"DB_USER":                  "database.user",
	"DB_PASSWORD":              "database.password",
	"DB_NAME":                  "database.name",
	"DB_SSLMODE":               "database.sslmode",
	"DB_MAX_OPEN_CONNS":        "database.max_open_conns",
	"DB_MAX_IDLE_CONNS":        "database.max_idle_conns",
	"DB_CONN_MAX_LIFETIME_SEC": "database.conn_max_lifetime_sec",
	"MINIO_ENDPOINT":           "minio.endpoint",
	"MINIO_ACCESS_KEY":         "minio.access_key",
	"MINIO_SECRET_KEY":         "minio.secret_key",
	"MINIO_BUCKET":             "minio.bucket",
	"MINIO_USE_SSL":            "minio.use_ssl",
}

// Default returns the configuration used when no environment is set.
func Default() *AppConfig {
	return &AppConfig{
		Host:   "127.0.0.1",
		Port:   8000,
		AppDir: ".",
		Log:    LogConfig{Level: "info", Format: "json"},
		Planner: PlannerConfig{
			Mode:    "mock",
			Model:   "gpt-4.1-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 60 * time.Second,
		},
		Executor: ExecutorConfig{StepDelay: 500 * time.Millisecond},
		Orchestrator: OrchestratorConfig{
			MaxPlanningTurns: 10,
			MaxCorrections:   3,
			MaxPlanSteps:     5,
			MaxStoredRuns:    1000,
		},
		Archivist: ArchivistConfig{Backend: "jsonl", ObjectPrefix: "runs/"},
		Database: DatabaseConfig{
			Port:               "5432",
			SSLMode:            "disable",
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
	}
}

// Load reads configuration from environment variables.
//
// A .env in the working directory is picked up by importing
// github.com/joho/godotenv/autoload in main. When appDir (or VIMANI_APP_DIR)
// holds a .env it is loaded on top and overrides the process environment.
// An empty appDir means "use VIMANI_APP_DIR, else the working directory".
func Load(appDir string) (*AppConfig, error) {
	dir := appDir
	if dir == "" {
		dir = os.Getenv("VIMANI_APP_DIR")
	}
	if dir == "" {
		dir = "."
	}

	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.ProviderWithValue("", ".", mapEnv), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppDir = dir
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mapEnv(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	return envKeys[key], value
}

func (c *AppConfig) normalize() {
	c.Planner.Mode = strings.ToLower(strings.TrimSpace(c.Planner.Mode))
	if c.Planner.Mode != "llm" {
		c.Planner.Mode = "mock"
	}
	c.Planner.BaseURL = strings.TrimRight(c.Planner.BaseURL, "/")
	c.Archivist.Backend = strings.ToLower(c.Archivist.Backend)
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Archivist.Path == "" {
		c.Archivist.Path = filepath.Join(c.AppDir, "runs.jsonl")
	}
	if c.Archivist.SQLitePath == "" {
		c.Archivist.SQLitePath = filepath.Join(c.AppDir, "runs.db")
	}
}

var validate = validator.New()

// Validate checks field constraints and backend specific requirements.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	switch c.Archivist.Backend {
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return errors.New("config validation failed: postgres archivist requires DB_HOST, DB_USER and DB_NAME")
		}
	case "s3":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return errors.New("config validation failed: s3 archivist requires MINIO_ENDPOINT and MINIO_BUCKET")
		}
	}
	return nil
}
