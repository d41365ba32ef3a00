package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/turingroom/internal/ai"
	"github.com/kiliankoe/turingroom/internal/ai/ollama"
	"github.com/kiliankoe/turingroom/internal/ai/openai"
	"github.com/kiliankoe/turingroom/internal/api"
	"github.com/kiliankoe/turingroom/internal/config"
	"github.com/kiliankoe/turingroom/internal/game"
	"github.com/kiliankoe/turingroom/internal/ws"
)

const version = "v0.3.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Turing Room - coordinator for the human-or-AI classroom game

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  DEFAULT_PROVIDER    AI provider: "openai", "ollama" or "canned" (default: openai)
  DEFAULT_MODEL       AI model to use (default: gpt-4o-mini)
  SYSTEM_PROMPT       System prompt for the AI partner (optional)
  OPENAI_API_KEY      OpenAI API key (required for OpenAI provider)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  OLLAMA_HOST         Ollama host URL (default: http://localhost:11434)
  GM_USER             Host username for basic auth
  GM_PASS             Host password for basic auth
  ROUND_SECONDS       Chat time per round (default: 120)
  EXPORT_ENABLED      Export round results to file (default: true)
  EXPORT_FILE         Path to export round results (default: ./turingroom-results.txt)
  LOG_LEVEL           zerolog level (default: info)

A .env file in the working directory is loaded first when present.
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Turing Room %s\n", version)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if cfg.GMUser == "" || cfg.GMPass == "" {
		log.Warn().Msg("GM_USER/GM_PASS not set, host routes are disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.Logger())

	rm := game.NewRoomManager()
	sock := ws.New(rm, cfg)
	defer sock.Close()
	oa := openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	ol := ollama.New(cfg.OllamaHost)
	canned := ai.NewCanned()
	sock.SetProvider(canned)
	sock.SetProviders(map[string]ai.Provider{"openai": oa, "ollama": ol, "canned": canned})
	sock.SetSystemPrompt(cfg.SystemPrompt)
	sock.Mount(r)

	api.New(rm, sock, cfg).Register(r)

	log.Info().Str("port", cfg.Port).Str("provider", cfg.DefaultProvider).Msg("listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
