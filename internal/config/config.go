package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/note-capture/note-capture/internal/domain/state"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds service configuration.
type Config struct {
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"notes.db"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"internal/migrations"`
	Postgres      PostgresConfig

	InitialState     string `env:"INITIAL_STATE" envDefault:"CHECKING_LOGIN"`
	TransitionPolicy string `env:"TRANSITION_POLICY" envDefault:"handler"`
	DiagnosticsLimit int    `env:"DIAGNOSTICS_LIMIT" envDefault:"100"`

	// APITokenHash is a bcrypt hash. Empty disables API auth.
	APITokenHash string `env:"API_TOKEN_HASH"`
	WorkflowFile string `env:"WORKFLOW_FILE"`

	Workflow Workflow
}

// PostgresConfig builds a DSN when DATABASE_URL is not set.
type PostgresConfig struct {
	User     string `env:"POSTGRES_USER" envDefault:"note_capture"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"note_capture_pass"`
	DB       string `env:"POSTGRES_DB" envDefault:"note_capture"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	SSLMode  string `env:"DATABASE_SSLMODE" envDefault:"disable"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

// Workflow is the optional YAML file describing what to capture.
type Workflow struct {
	CaptureFilter string   `yaml:"capture_filter"`
	Keywords      []string `yaml:"keywords"`
}

// Load reads configuration from the environment and the workflow file.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.Postgres.DSN()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.WorkflowFile != "" {
		wf, err := LoadWorkflow(cfg.WorkflowFile)
		if err != nil {
			return nil, err
		}
		cfg.Workflow = *wf
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := c.Initial(); err != nil {
		return err
	}
	if c.DiagnosticsLimit <= 0 {
		return errors.New("DIAGNOSTICS_LIMIT must be positive")
	}
	return nil
}

// Initial parses InitialState.
func (c *Config) Initial() (state.BusinessState, error) {
	s, err := state.ParseState(c.InitialState)
	if err != nil {
		return state.None, fmt.Errorf("invalid INITIAL_STATE: %w", err)
	}
	return s, nil
}

// LoadWorkflow reads a workflow YAML file. Unknown keys are rejected.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var wf Workflow
	if err := dec.Decode(&wf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	keywords := wf.Keywords[:0]
	for _, k := range wf.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	wf.Keywords = keywords
	return &wf, nil
}
