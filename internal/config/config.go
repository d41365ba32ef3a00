package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the coordinator's configuration.
type Config struct {
	Port            string `env:"PORT"             envDefault:"8080"`
	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"openai"`
	DefaultModel    string `env:"DEFAULT_MODEL"    envDefault:"gpt-4o-mini"`
	SystemPrompt    string `env:"SYSTEM_PROMPT"`
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OllamaHost      string `env:"OLLAMA_HOST"      envDefault:"http://localhost:11434"`
	GMUser          string `env:"GM_USER"`
	GMPass          string `env:"GM_PASS"`
	RoundSeconds    int    `env:"ROUND_SECONDS"    envDefault:"120"`
	ExportEnabled   bool   `env:"EXPORT_ENABLED"   envDefault:"true"`
	ExportFile      string `env:"EXPORT_FILE"      envDefault:"./turingroom-results.txt"`
	LogLevel        string `env:"LOG_LEVEL"        envDefault:"info"`
}

// Client is the terminal client's configuration.
type Client struct {
	ServerURL    string        `env:"TURING_SERVER_URL"    envDefault:"http://localhost:8080"`
	Token        string        `env:"TURING_TOKEN"`
	GuestID      string        `env:"TURING_GUEST_ID"`
	GuestName    string        `env:"TURING_GUEST_NAME"`
	DialTimeout  time.Duration `env:"TURING_DIAL_TIMEOUT"  envDefault:"10s"`
	WriteTimeout time.Duration `env:"TURING_WRITE_TIMEOUT" envDefault:"5s"`
	LogLevel     string        `env:"LOG_LEVEL"            envDefault:"info"`
}

// FromEnv loads the coordinator configuration. A .env file in the working
// directory is applied first when present.
func FromEnv() (Config, error) {
	var c Config
	if err := parse(&c); err != nil {
		return Config{}, err
	}
	if c.RoundSeconds <= 0 {
		return Config{}, fmt.Errorf("ROUND_SECONDS must be positive, got %d", c.RoundSeconds)
	}
	return c, nil
}

func ClientFromEnv() (Client, error) {
	var c Client
	if err := parse(&c); err != nil {
		return Client{}, err
	}
	return c, nil
}

// Level maps LOG_LEVEL to a zerolog level, defaulting to info.
func Level(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func parse(target any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
