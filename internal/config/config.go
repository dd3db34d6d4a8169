package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	MatcherLinear = "linear"
	MatcherHNSW   = "hnsw"
)

type Config struct {
	Database    DatabaseConfig
	Embedding   EmbeddingConfig
	Recognition RecognitionConfig
	Web         WebConfig
	Credential  CredentialConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	SQLitePath    string // SQLite database file, used when URL is empty
	HNSWIndexPath string // Path to persist the HNSW template index (optional, rebuilt when stale)
}

type EmbeddingConfig struct {
	URL     string        // defaults to http://localhost:8000
	Dim     int           // pinned embedding dimension; 0 lets the first enrollment decide
	Timeout time.Duration // bound on a single provider call
	MaxSide int           // images larger than this are downscaled before upload
}

type RecognitionConfig struct {
	Threshold     float64 // raw cosine similarity in [-1, 1]
	MarginEnabled bool
	MarginEpsilon float64
	Matcher       string // linear or hnsw
}

type WebConfig struct {
	Host       string
	Port       int
	AdminToken string // bearer token for enrollment and audit endpoints
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
}

type CredentialConfig struct {
	SigningKey string // HS256 key; credential issuance is disabled when empty
	Issuer     string
	Audience   string
	TTL        time.Duration
}

// Enabled reports whether tokens should be issued on accepted matches.
func (c *CredentialConfig) Enabled() bool {
	return c.SigningKey != ""
}

// Addr returns the listen address for the HTTP server.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type defaultsFile struct {
	Recognition struct {
		Threshold     float64 `yaml:"threshold"`
		MarginEnabled bool    `yaml:"margin_enabled"`
		MarginEpsilon float64 `yaml:"margin_epsilon"`
		Matcher       string  `yaml:"matcher"`
	} `yaml:"recognition"`
	Embedding struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
		MaxSide   int    `yaml:"max_side"`
	} `yaml:"embedding"`
	Database struct {
		MaxOpenConns int `yaml:"max_open_conns"`
		MaxIdleConns int `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Web struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"web"`
	Credential struct {
		Issuer     string `yaml:"issuer"`
		Audience   string `yaml:"audience"`
		TTLMinutes int    `yaml:"ttl_minutes"`
	} `yaml:"credential"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float64.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadDefaults() defaultsFile {
	var d defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			SQLitePath:    os.Getenv("SQLITE_PATH"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", d.Embedding.URL),
			Dim:     envInt("EMBEDDING_DIM", 0),
			Timeout: time.Duration(envInt("EMBEDDING_TIMEOUT_MS", d.Embedding.TimeoutMS)) * time.Millisecond,
			MaxSide: envInt("EMBEDDING_MAX_SIDE", d.Embedding.MaxSide),
		},
		Recognition: RecognitionConfig{
			Threshold:     envFloat("FACE_RECOGNITION_THRESHOLD", d.Recognition.Threshold),
			MarginEnabled: envBool("FACE_RECOGNITION_MARGIN_ENABLED", d.Recognition.MarginEnabled),
			MarginEpsilon: envFloat("FACE_RECOGNITION_MARGIN_EPSILON", d.Recognition.MarginEpsilon),
			Matcher:       strings.ToLower(envString("MATCHER", d.Recognition.Matcher)),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			AdminToken:     os.Getenv("ADMIN_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Credential: CredentialConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     envString("JWT_ISSUER", d.Credential.Issuer),
			Audience:   envString("JWT_AUDIENCE", d.Credential.Audience),
			TTL:        time.Duration(envInt("JWT_TTL_MINUTES", d.Credential.TTLMinutes)) * time.Minute,
		},
	}
}

// Validate checks the recognition policy and matcher settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		errs = append(errs, fmt.Errorf("FACE_RECOGNITION_THRESHOLD must be in [-1, 1], got %v", c.Recognition.Threshold))
	}
	if c.Recognition.MarginEpsilon < 0 || c.Recognition.MarginEpsilon > 2 {
		errs = append(errs, fmt.Errorf("FACE_RECOGNITION_MARGIN_EPSILON must be in [0, 2], got %v", c.Recognition.MarginEpsilon))
	}
	switch c.Recognition.Matcher {
	case MatcherLinear, MatcherHNSW:
	default:
		errs = append(errs, fmt.Errorf("MATCHER must be %q or %q, got %q", MatcherLinear, MatcherHNSW, c.Recognition.Matcher))
	}
	if c.Credential.Enabled() && len(c.Credential.SigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}
