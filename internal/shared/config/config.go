package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

const devJWTSecret = "dev-secret"

// Config holds application configuration.
type Config struct {
	Env             string   `env:"ENV" env-default:"dev"`
	Port            string   `env:"PORT" env-default:"8080"`
	CORSAllowOrigin []string `env:"CORS_ALLOW_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`
	DatabaseURL     string   `env:"DATABASE_URL"`
	JWTSecret       string   `env:"JWT_SECRET" env-default:"dev-secret"`

	ObjectStoreType string `env:"OBJECT_STORE" env-default:"local"`
	LocalStoreDir   string `env:"LOCAL_STORE_DIR" env-default:"./data"`
	AWSRegion       string `env:"AWS_REGION"`
	S3Bucket        string `env:"S3_BUCKET"`
	S3Prefix        string `env:"S3_PREFIX" env-default:"rag-originals"`
	SSEKMSKeyID     string `env:"SSE_KMS_KEY_ID"`

	RAG     RAG
	Analyze Analyze
}

// RAG configures the remote indexing service and ingestion limits.
type RAG struct {
	BaseURL          string   `env:"RAG_API_BASE,RAG_SERVICE_URL,RAG_INTERNAL_HOST"`
	APIKey           string   `env:"RAG_SERVICE_API_KEY,RAG_API_KEY"`
	TimeoutMS        int      `env:"RAG_TIMEOUT_MS" env-default:"30000"`
	RetryBackoffMS   int      `env:"RAG_RETRY_BACKOFF_MS" env-default:"250"`
	MaxUploadMB      int      `env:"RAG_MAX_UPLOAD_MB" env-default:"20"`
	AllowedMIME      []string `env:"RAG_ALLOWED_MIME" env-separator:","`
	IngestRPS        float64  `env:"RAG_INGEST_RPS" env-default:"2"`
	IngestBurst      int      `env:"RAG_INGEST_BURST" env-default:"10"`
	SyncConcurrency  int      `env:"RAG_SYNC_CONCURRENCY" env-default:"4"`
	ArchiveOriginals bool     `env:"RAG_ARCHIVE_ORIGINALS" env-default:"true"`
}

// Analyze configures the quota-gated analysis operation.
type Analyze struct {
	LimitAdmin  int `env:"ANALYZE_LIMIT_ADMIN" env-default:"100"`
	LimitWorker int `env:"ANALYZE_LIMIT_WORKER" env-default:"20"`
	LimitClient int `env:"ANALYZE_LIMIT_CLIENT" env-default:"10"`
	MaxUploadMB int `env:"ANALYZE_MAX_UPLOAD_MB" env-default:"50"`
	MaxChunks   int `env:"ANALYZE_MAX_CHUNKS" env-default:"200"`
}

// DefaultAllowedMIME lists the content types accepted when RAG_ALLOWED_MIME is unset.
var DefaultAllowedMIME = []string{
	"application/pdf",
	"text/plain",
	"text/markdown",
	"text/html",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = normalizeEnv(c.Env)
	c.ObjectStoreType = normalizeStoreType(c.ObjectStoreType)
	c.CORSAllowOrigin = splitAndTrim(strings.Join(c.CORSAllowOrigin, ","))
	c.RAG.BaseURL = NormalizeBaseURL(c.RAG.BaseURL)
	c.RAG.APIKey = strings.TrimSpace(c.RAG.APIKey)

	allowed := splitAndTrim(strings.ToLower(strings.Join(c.RAG.AllowedMIME, ",")))
	if len(allowed) == 0 {
		allowed = append([]string(nil), DefaultAllowedMIME...)
	}
	c.RAG.AllowedMIME = allowed
}

// Validate rejects settings that are unsafe outside development.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "production" {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if c.JWTSecret == "" || c.JWTSecret == devJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
	}
	if c.ObjectStoreType == "s3" && strings.TrimSpace(c.S3Bucket) == "" {
		errs = append(errs, errors.New("OBJECT_STORE=s3 requires S3_BUCKET"))
	}
	if c.RAG.TimeoutMS <= 0 {
		errs = append(errs, errors.New("RAG_TIMEOUT_MS must be positive"))
	}
	if c.RAG.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("RAG_MAX_UPLOAD_MB must be positive"))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes is the ingestion size ceiling in bytes.
func (r RAG) MaxUploadBytes() int64 {
	return int64(r.MaxUploadMB) << 20
}

// MaxUploadBytes is the analysis size ceiling in bytes.
func (a Analyze) MaxUploadBytes() int64 {
	return int64(a.MaxUploadMB) << 20
}

// NormalizeBaseURL trims trailing slashes and adds a scheme to bare hosts.
// IP literals, localhost and single-label or .internal/.local hosts get http;
// other hostnames get https.
func NormalizeBaseURL(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	if addr, err := netip.ParseAddr(s); err == nil && addr.Is6() {
		return "http://[" + s + "]"
	}
	if internalHost(hostOf(s)) {
		return "http://" + s
	}
	return "https://" + s
}

func hostOf(s string) string {
	u, err := url.Parse("http://" + s)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func internalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "" || host == "localhost" || !strings.Contains(host, ".") {
		return true
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	return strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost")
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "none", "off":
		return "none"
	default:
		return "local"
	}
}
