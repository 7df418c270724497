package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Search.MaxResults != 2 {
		t.Errorf("MaxResults = %d, want 2", cfg.Search.MaxResults)
	}
	if cfg.LLMClient != "openai" {
		t.Errorf("LLMClient = %q, want openai", cfg.LLMClient)
	}
	if cfg.Session != "chatbot_1" {
		t.Errorf("Session = %s, want chatbot_1", cfg.Session)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"MockWithoutModel", func(c *Config) { c.LLMClient = "mock" }, false},
		{"OpenAIWithModel", func(c *Config) { c.LLMClient = "openai"; c.Model = "gpt-4o-mini" }, false},
		{"OpenAIWithoutModel", func(c *Config) { c.LLMClient = "openai" }, false},
		{"UnsetClient", func(c *Config) { c.LLMClient = "" }, false},
		{"AnthropicWithoutModel", func(c *Config) { c.LLMClient = "anthropic" }, true},
		{"UnknownClient", func(c *Config) { c.LLMClient = "llama" }, true},
		{"BadStore", func(c *Config) { c.Store = "redis" }, true},
		{"BadMode", func(c *Config) { c.Mode = "yolo" }, true},
		{"BadVerbosity", func(c *Config) { c.ToolVerbosity = "loud" }, true},
		{"BadTemperature", func(c *Config) { c.Temperature = 3 }, true},
		{"ZeroMaxResults", func(c *Config) { c.Search.MaxResults = 0 }, true},
		{"UnknownSearch", func(c *Config) { c.Search.Provider = "bing" }, true},
		{"EmptySession", func(c *Config) { c.Session = "" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFromFileOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("llm: openai\nmodel: gpt-4o-mini\nsearch:\n  max_results: 5\n  timeout: 10s\napproval:\n  auto_approve: [\"tavily_*\"]\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		t.Fatalf("loadFromFile failed: %v", err)
	}
	if cfg.LLMClient != "openai" || cfg.Model != "gpt-4o-mini" {
		t.Errorf("llm settings not loaded: %+v", cfg)
	}
	if cfg.Search.MaxResults != 5 || cfg.Search.Timeout != 10*time.Second {
		t.Errorf("search settings not loaded: %+v", cfg.Search)
	}
	if cfg.Search.BaseURL != "https://api.tavily.com" {
		t.Errorf("unset field should keep its default, got %q", cfg.Search.BaseURL)
	}
	if len(cfg.Approval.AutoApprove) != 1 || cfg.Approval.AutoApprove[0] != "tavily_*" {
		t.Errorf("approval patterns not loaded: %v", cfg.Approval.AutoApprove)
	}
}

func TestLoadConfigProjectFile(t *testing.T) {
	wd := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	if err := os.MkdirAll(filepath.Join(wd, DirName), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wd, DirName, "config.yaml"), []byte("session: project\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(wd)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Session != "project" {
		t.Errorf("Session = %s, want project", cfg.Session)
	}
}

func TestGetToolset(t *testing.T) {
	cfg := Default()
	ts, err := cfg.GetToolset("")
	if err != nil {
		t.Fatalf("GetToolset failed: %v", err)
	}
	if len(ts.Tools) != 1 || ts.Tools[0] != "tavily_search" {
		t.Errorf("unexpected built-in toolset %v", ts.Tools)
	}

	cfg.Toolsets = []Toolset{
		{Name: "default", Tools: []string{"tavily_search"}},
		{Name: "research", Tools: []string{"tavily_search", "fetch"}},
	}
	ts, err = cfg.GetToolset("research")
	if err != nil || ts.Name != "research" {
		t.Fatalf("expected research toolset, got %v, %v", ts, err)
	}
	ts, err = cfg.GetToolset("missing")
	if err != nil || ts.Name != "default" {
		t.Fatalf("expected fallback to default, got %v, %v", ts, err)
	}

	cfg.Toolsets = []Toolset{{Name: "research"}}
	if _, err := cfg.GetToolset("default"); err == nil {
		t.Error("expected an error when default toolset is missing")
	}
}
