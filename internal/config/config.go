package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/reviewpulse/internal/database"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrInvalid is wrapped by Validate when required settings are missing.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Apps       []AppEntry `yaml:"apps"`
	Sources    Sources    `yaml:"sources"`
	Retry      Retry      `yaml:"retry"`
	Enrichment Enrichment `yaml:"enrichment"`
	Analysis   Analysis   `yaml:"analysis"`
	Server     Server     `yaml:"server"`
	Redis      Redis      `yaml:"redis"`
	Schedule   Schedule   `yaml:"schedule"`
	Output     Output     `yaml:"output"`
	Logging    Logging    `yaml:"logging"`
}

// AppEntry is a tracked app listing as written in the config file.
type AppEntry struct {
	Store      string `yaml:"store"`
	ExternalID string `yaml:"external_id"`
	Name       string `yaml:"name"`
}

type Sources struct {
	AppStore   AppStore   `yaml:"appstore"`
	GooglePlay GooglePlay `yaml:"googleplay"`
}

type AppStore struct {
	BaseURL     string   `yaml:"base_url"`
	Countries   []string `yaml:"countries"`
	Pages       int      `yaml:"pages"`
	MinCoverage int      `yaml:"min_coverage"`
	RPS         float64  `yaml:"rps"`
}

type GooglePlay struct {
	BaseURL string  `yaml:"base_url"`
	Count   int     `yaml:"count"`
	Lang    string  `yaml:"lang"`
	Country string  `yaml:"country"`
	RPS     float64 `yaml:"rps"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type Enrichment struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	OpenAIModel  string        `yaml:"openai_model"`
	OpenAIKeyEnv string        `yaml:"openai_key_env"`
	OllamaModel  string        `yaml:"ollama_model"`
	OllamaURL    string        `yaml:"ollama_url"`
	Language     string        `yaml:"language"`
	MaxTokens    int           `yaml:"max_tokens"`
	MaxAttempts  int           `yaml:"max_attempts"`
	CallDelay    time.Duration `yaml:"call_delay"`
}

type Analysis struct {
	DefaultWindow string            `yaml:"default_window"`
	Windows       map[string]Window `yaml:"windows"`
}

// Window bounds one analysis pass.
type Window struct {
	Days  int    `yaml:"days"`
	Limit int    `yaml:"limit"`
	Label string `yaml:"label"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Redis struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type Schedule struct {
	Enabled  bool   `yaml:"enabled"`
	Ingest   string `yaml:"ingest"`
	Analyze  string `yaml:"analyze"`
	Timezone string `yaml:"timezone"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

// ConfigDir returns the XDG config directory for reviewpulse.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "reviewpulse")
}

// DataDir returns the XDG data directory for reviewpulse.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "reviewpulse")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/reviewpulse/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'reviewpulse init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv reads a .env file next to the config and in the working
// directory. Existing environment variables win. Missing files are fine.
func LoadEnv(configPath string) {
	var files []string
	if configPath != "" {
		files = append(files, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	files = append(files, ".env")
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			AppStore: AppStore{
				BaseURL:     "https://itunes.apple.com",
				Countries:   []string{"kr", "us"},
				Pages:       5,
				MinCoverage: 50,
				RPS:         1,
			},
			GooglePlay: GooglePlay{
				Count:   500,
				Lang:    "ko",
				Country: "kr",
				RPS:     1,
			},
		},
		Retry: Retry{MaxAttempts: 3, BaseDelay: time.Second},
		Enrichment: Enrichment{
			Provider:     "gemini",
			APIKeyEnv:    "GEMINI_API_KEY",
			OpenAIModel:  "gpt-4o-mini",
			OpenAIKeyEnv: "OPENAI_API_KEY",
			OllamaModel:  "qwen2.5:7b",
			OllamaURL:    "http://localhost:11434",
			Language:     "ko",
			MaxTokens:    1024,
			MaxAttempts:  1,
			CallDelay:    time.Second,
		},
		Analysis: Analysis{DefaultWindow: "quarterly"},
		Server:   Server{Port: 8000},
		Redis:    Redis{LockTTL: 30 * time.Minute},
		Schedule: Schedule{
			Ingest:   "0 */6 * * *",
			Analyze:  "30 6 * * *",
			Timezone: "Asia/Seoul",
		},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Analysis.Windows) == 0 {
		cfg.Analysis.Windows = DefaultWindows()
	}
	for i := range cfg.Apps {
		cfg.Apps[i].Store = strings.ToLower(strings.TrimSpace(cfg.Apps[i].Store))
		cfg.Apps[i].ExternalID = strings.TrimSpace(cfg.Apps[i].ExternalID)
	}

	return cfg, nil
}

// DefaultWindows are the built-in analysis windows.
func DefaultWindows() map[string]Window {
	return map[string]Window{
		"recent":    {Days: 1, Limit: 500, Label: "last 24 hours"},
		"quarterly": {Days: 90, Limit: 1000, Label: "last 3 months"},
	}
}

// Window returns the named analysis window, or the default one when name
// is empty.
func (c *Config) Window(name string) (Window, error) {
	if name == "" {
		name = c.Analysis.DefaultWindow
	}
	w, ok := c.Analysis.Windows[name]
	if !ok {
		return Window{}, fmt.Errorf("unknown analysis window %q", name)
	}
	if w.Label == "" {
		w.Label = name
	}
	return w, nil
}

// Validate reports every missing or malformed setting the pipeline needs.
// The returned error wraps ErrInvalid. An empty apps list is allowed since
// apps can also be registered from the CLI.
func (c *Config) Validate() error {
	var problems []string

	hasAndroid := false
	for i, a := range c.Apps {
		if !database.ValidStore(a.Store) {
			problems = append(problems, fmt.Sprintf("apps[%d]: store must be ios or android, got %q", i, a.Store))
		}
		if a.ExternalID == "" {
			problems = append(problems, fmt.Sprintf("apps[%d]: external_id is required", i))
		}
		if a.Store == database.StoreAndroid {
			hasAndroid = true
		}
	}
	if hasAndroid && c.Sources.GooglePlay.BaseURL == "" {
		problems = append(problems, "sources.googleplay.base_url is required for android apps")
	}
	if len(c.Sources.AppStore.Countries) == 0 {
		problems = append(problems, "sources.appstore.countries must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if _, err := c.Window(""); err != nil {
		problems = append(problems, "analysis.default_window: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  %s", ErrInvalid, strings.Join(problems, "\n  "))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath is the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "reviewpulse.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
