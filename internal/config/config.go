// Package config builds the process configuration from the environment and
// command line. Everything is resolved once at startup; the resulting
// Config is immutable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Flags are the command-line inputs collected by the CLI layer.
type Flags struct {
	Sandbox string // "host" or a container name
	CLI     bool
	Verbose bool
	Workdir string
}

// Config is the fully resolved process configuration.
type Config struct {
	// Chat transport.
	BotToken string
	GuildID  string
	CLI      bool

	// Model backend.
	Provider     string // "anthropic" or "openai"
	ModelID      string // empty means the provider's default
	LLMURL       string // OpenAI-compatible base URL for local models
	AnthropicKey string
	OpenAIKey    string
	ModelsJSON   string // inline JSON5 registry, wins over the file
	ModelsPath   string // <workspace>/models.json

	// Workspace and sandbox.
	Workspace       string // absolute
	Sandbox         string // "host" or a container name
	AllowedPaths    []string
	AllowedCommands []string
	DelegateCmd     string

	OTLPEndpoint string
	Verbose      bool
}

// Load resolves the configuration: .env first (when present), then the
// environment, then flags. Returns an error for anything the operator must
// fix before the process can start.
func Load(f Flags) (*Config, error) {
	_ = godotenv.Load(".env")

	if strings.TrimSpace(f.Workdir) == "" {
		return nil, fmt.Errorf("working directory argument is required")
	}
	workspace, err := filepath.Abs(f.Workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	cfg := &Config{
		BotToken:     os.Getenv("BOT_TOKEN"),
		GuildID:      os.Getenv("GUILD_ID"),
		CLI:          f.CLI,
		Provider:     envDefault("MODEL_PROVIDER", "anthropic"),
		ModelID:      os.Getenv("MODEL_ID"),
		LLMURL:       os.Getenv("LLM_URL"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		ModelsJSON:   os.Getenv("MODELS_JSON"),
		ModelsPath:   filepath.Join(workspace, "models.json"),
		Workspace:    workspace,
		Sandbox:      f.Sandbox,
		DelegateCmd:  envDefault("DELEGATE_AGENT_CMD", "claude"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Verbose:      f.Verbose,
	}
	if cfg.Sandbox == "" {
		cfg.Sandbox = "host"
	}
	cfg.AllowedPaths = splitList(os.Getenv("ALLOWED_PATHS"), ":")
	cfg.AllowedCommands = splitList(os.Getenv("ALLOWED_COMMANDS"), ",")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.CLI {
		if c.BotToken == "" {
			return fmt.Errorf("BOT_TOKEN is required (set it in the environment or a .env file)")
		}
		if c.GuildID == "" {
			return fmt.Errorf("GUILD_ID is required (set it in the environment or a .env file)")
		}
	}

	switch c.Provider {
	case "anthropic":
		if c.AnthropicKey == "" && c.LLMURL == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.OpenAIKey == "" && c.LLMURL == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider (or set LLM_URL)")
		}
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q (want anthropic or openai)", c.Provider)
	}
	return nil
}

// HostSandbox reports whether commands run directly on the host.
func (c *Config) HostSandbox() bool { return c.Sandbox == "host" }

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
