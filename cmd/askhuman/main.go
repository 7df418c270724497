package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/m4xw311/askhuman/agent"
	"github.com/m4xw311/askhuman/agent/acp"
	"github.com/m4xw311/askhuman/agent/terminal"
	"github.com/m4xw311/askhuman/config"
	"github.com/m4xw311/askhuman/llm"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/search"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

func main() {
	modeFlag := flag.String("m", "", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	resumeFlag := flag.String("r", "", "Resume a stored session by name")
	toolVerbosityFlag := flag.String("tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	acpFlag := flag.Bool("acp", false, "Serve the Agent Client Protocol on stdio")
	traceFlag := flag.Bool("trace", false, "Log at trace level to troubleshoot issues")
	logLevelFlag := flag.String("log-level", "", "Log level: trace, debug, info, warn or error")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("Error loading configuration", err)
	}

	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if *toolVerbosityFlag != "" {
		cfg.ToolVerbosity = *toolVerbosityFlag
	}
	if *sessionFlag != "" {
		cfg.Session = *sessionFlag
	}
	if *resumeFlag != "" {
		// Resuming only makes sense against stored sessions.
		cfg.Session = *resumeFlag
		cfg.Store = "file"
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}
	if *traceFlag {
		cfg.Logging.Level = "trace"
	}
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg)
	if err != nil {
		fatal("Error opening session store", err)
	}
	if *resumeFlag != "" {
		if _, err := store.Get(ctx, cfg.Session); err != nil {
			fatal(fmt.Sprintf("Error resuming session '%s'", cfg.Session), err)
		}
	}

	searcher, err := search.NewTavilyClient(search.Options{
		BaseURL:          cfg.Search.BaseURL,
		MaxResults:       cfg.Search.MaxResults,
		Timeout:          cfg.Search.Timeout,
		BreakerThreshold: cfg.Search.BreakerThreshold,
	})
	if err != nil {
		fatal("Error initializing search", err)
	}

	registry := tools.NewToolRegistry(ctx, cfg, tools.NewSearchTool(searcher))
	defer registry.Close()

	client, err := llm.NewClient(ctx, cfg.LLMClient, cfg.Model, cfg.Temperature)
	if err != nil {
		fatal(fmt.Sprintf("Error initializing %s client", cfg.LLMClient), err)
	}

	a, err := agent.New(cfg, registry, *toolsetFlag, agent.Mode(cfg.Mode), client, agent.ToolVerbosity(cfg.ToolVerbosity))
	if err != nil {
		fatal("Error initializing agent", err)
	}

	if *acpFlag {
		in := bufio.NewReader(os.Stdin)
		out := bufio.NewWriter(os.Stdout)
		if err := acp.Run(ctx, a, store, in, out); err != nil {
			fatal("ACP mode failed", err)
		}
		return
	}

	initialPrompt := strings.Join(flag.Args(), " ")
	if *resumeFlag != "" {
		fmt.Printf("Resuming session: %s\n", cfg.Session)
	} else {
		fmt.Printf("Starting session: %s\n", cfg.Session)
	}
	term := terminal.New(a, store, cfg.Session, os.Stdin, os.Stdout)
	if err := term.Run(ctx, initialPrompt); err != nil {
		fatal("Agent stopped with an error", err)
	}
}

func newStore(cfg *config.Config) (session.Store, error) {
	if cfg.Store == "file" {
		return session.NewFileStore(session.DefaultDir())
	}
	return session.NewMemoryStore(), nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %+v\n", msg, err)
	os.Exit(1)
}
