package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/m4xw311/askhuman/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".askhuman"

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Search struct {
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	MaxResults       int           `yaml:"max_results"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
}

type Approval struct {
	// AutoApprove holds glob patterns of tool names approved without asking.
	AutoApprove []string `yaml:"auto_approve"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLMClient            string      `yaml:"llm"`
	Model                string      `yaml:"model"`
	Temperature          float64     `yaml:"temperature"`
	Session              string      `yaml:"session"`
	Store                string      `yaml:"store"`
	Mode                 string      `yaml:"mode"`
	ToolVerbosity        string      `yaml:"tool_verbosity"`
	Toolsets             []Toolset   `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers"`
	Search               Search      `yaml:"search"`
	Approval             Approval    `yaml:"approval"`
	Logging              Logging     `yaml:"logging"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		LLMClient:     "openai",
		Session:       "chatbot_1",
		Store:         "memory",
		Mode:          "prompt",
		ToolVerbosity: "info",
		Search: Search{
			Provider:         "tavily",
			BaseURL:          "https://api.tavily.com",
			MaxResults:       2,
			Timeout:          30 * time.Second,
			BreakerThreshold: 5,
		},
		Logging: Logging{Level: "warn"},
	}
}

// LoadConfig loads .env into the process environment, then configuration from
// the user's home directory and the current working directory, with the latter
// taking precedence.
func LoadConfig() (*Config, error) {
	// A missing .env is normal; variables may come from the shell.
	_ = godotenv.Load()

	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so a project
	// file replaces the user-level values it sets.
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.LLMClient {
	case "", "mock", "openai", "anthropic", "bedrock", "gemini":
	default:
		return errors.New("unknown llm client '%s'", c.LLMClient)
	}
	// openai falls back to its default model.
	if c.LLMClient != "" && c.LLMClient != "mock" && c.LLMClient != "openai" && c.Model == "" {
		return errors.New("model must be set for llm client '%s'", c.LLMClient)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature %v out of range [0, 2]", c.Temperature)
	}
	switch c.Store {
	case "memory", "file":
	default:
		return errors.New("unknown store '%s'. Must be 'memory' or 'file'", c.Store)
	}
	switch c.Mode {
	case "auto", "prompt":
	default:
		return errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", c.Mode)
	}
	switch c.ToolVerbosity {
	case "none", "info", "all":
	default:
		return errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", c.ToolVerbosity)
	}
	if c.Search.Provider != "tavily" {
		return errors.New("unknown search provider '%s'", c.Search.Provider)
	}
	if c.Search.MaxResults <= 0 {
		return errors.New("search.max_results must be positive")
	}
	if c.Session == "" {
		return errors.New("session must not be empty")
	}
	return nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. Without any
// configured toolsets the default toolset is the built-in search tool.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return &Toolset{Name: "default", Tools: []string{"tavily_search"}}, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
