package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		MaxUploadBytes int64         `yaml:"maxUploadBytes"`
		ReadTimeout    time.Duration `yaml:"readTimeout"`
		WriteTimeout   time.Duration `yaml:"writeTimeout"`
		AllowedOrigins []string      `yaml:"allowedOrigins"`
		// APIKeys maps a client name to its key; empty disables auth.
		APIKeys   map[string]string `yaml:"apiKeys"`
		RateLimit struct {
			PerMinute int `yaml:"perMinute"`
			Burst     int `yaml:"burst"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Model struct {
		Provider    string        `yaml:"provider"`
		ID          string        `yaml:"id"`
		APIKey      string        `yaml:"apiKey"`
		BaseURL     string        `yaml:"baseURL"`
		MaxTokens   int           `yaml:"maxTokens"`
		Temperature float32       `yaml:"temperature"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"model"`

	Analysis struct {
		IncludeMissingCategories bool `yaml:"includeMissingCategories"`
	} `yaml:"analysis"`

	Export struct {
		Prefix string `yaml:"prefix"`
		// Dir is used when MinIO is not configured.
		Dir string `yaml:"dir"`
	} `yaml:"export"`

	Minio struct {
		Endpoint      string        `yaml:"endpoint"`
		AccessKey     string        `yaml:"accessKey"`
		SecretKey     string        `yaml:"secretKey"`
		BucketName    string        `yaml:"bucketName"`
		Region        string        `yaml:"region"`
		UseSSL        bool          `yaml:"useSSL"`
		PresignExpiry time.Duration `yaml:"presignExpiry"`
	} `yaml:"minio"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | text
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.MaxUploadBytes = 1 << 20
	cfg.Server.ReadTimeout = 15 * time.Second
	// model calls are slow; leave room for the full response
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.RateLimit.PerMinute = 10
	cfg.Server.RateLimit.Burst = 3

	cfg.Model.Provider = "openai"
	cfg.Model.ID = "gpt-4o"
	cfg.Model.MaxTokens = 4096
	cfg.Model.Temperature = 0.3

	cfg.Export.Prefix = "exports"
	cfg.Minio.BucketName = "threat-models"
	cfg.Minio.Region = "us-east-1"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// Load baca file config.yaml di atas Default, lalu override dari env.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets model identifier, credentials and storage settings come
// from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TMM_MODEL_PROVIDER", &c.Model.Provider)
	str("TMM_MODEL_ID", &c.Model.ID)
	str("OPENAI_API_KEY", &c.Model.APIKey)
	str("OPENAI_BASE_URL", &c.Model.BaseURL)
	str("MINIO_ENDPOINT", &c.Minio.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Minio.AccessKey)
	str("MINIO_SECRET_KEY", &c.Minio.SecretKey)
	str("MINIO_BUCKET", &c.Minio.BucketName)
	str("MINIO_REGION", &c.Minio.Region)
	str("TMM_EXPORT_DIR", &c.Export.Dir)
	str("TMM_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v, ok := lookup("MINIO_USE_SSL"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Minio.UseSSL = b
		}
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.maxUploadBytes must be positive"))
	}
	switch c.Model.Provider {
	case "openai", "azure":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not supported (openai, azure)", c.Model.Provider))
	}
	if c.Model.Provider == "azure" && c.Model.BaseURL == "" {
		errs = append(errs, errors.New("model.baseURL is required for azure"))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("model.maxTokens must be positive"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature %v out of range", c.Model.Temperature))
	}
	return errors.Join(errs...)
}

// MinioEnabled reports whether exports go to object storage.
func (c *Config) MinioEnabled() bool {
	return c.Minio.Endpoint != ""
}

// SlogLevel maps log.level onto a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
