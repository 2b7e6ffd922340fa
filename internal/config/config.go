package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Redis
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// JWT
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// exh.ai
	ExhAPIToken       string        `env:"EXH_API_TOKEN,required,notEmpty"`
	ExhBaseURL        string        `env:"EXH_BASE_URL" envDefault:"https://api.exh.ai"`
	ExhTimeout        time.Duration `env:"EXH_TIMEOUT" envDefault:"90s"`
	ExhConcurrentReqs int           `env:"EXH_CONCURRENT_REQUESTS" envDefault:"4"`

	// Gemini AI (optional, powers prompt suggestions)
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	// Storage
	StoragePath string `env:"STORAGE_PATH" envDefault:"./uploads"`
	MaxUploadMB int    `env:"MAX_UPLOAD_MB" envDefault:"20"`

	// Workers
	WorkerCount          int `env:"WORKER_COUNT" envDefault:"4"`
	GenerationRatePerMin int `env:"GENERATION_RATE_PER_MIN" envDefault:"30"`

	// Frontend
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ExhConcurrentReqs <= 0 {
		cfg.ExhConcurrentReqs = 1
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}

	return cfg, nil
}

// MaxUploadBytes is the upload limit applied to multipart bodies and remote imports.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
