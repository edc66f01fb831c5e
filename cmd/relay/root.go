package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okanta/relay"
	"github.com/okanta/relay/eventlog"
	"github.com/okanta/relay/internal/config"
	"github.com/okanta/relay/mcp"
	"github.com/okanta/relay/observer"
	"github.com/okanta/relay/provider/openai"
	"github.com/okanta/relay/store"
	"github.com/okanta/relay/tools/calc"
	"github.com/okanta/relay/tools/clock"
	"github.com/okanta/relay/tools/shell"
	"github.com/okanta/relay/tools/web"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Run tool-using agents against any OpenAI-compatible model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default relay.toml)")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newToolsCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run the agent once with a user message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*cfgPath)
			return runAgent(cmd.Context(), cfg, sessionID, args[0], asJSON)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: a fresh id)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}

func newToolsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent would see",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*cfgPath)
			reg, closeTools, err := buildRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeTools()
			for _, d := range reg.List() {
				fmt.Printf("%-12s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}
}

// buildRegistry wires the built-in toolset plus any configured MCP servers.
// The returned close function shuts down MCP subprocesses.
func buildRegistry(ctx context.Context, cfg config.Config) (*relay.Registry, func(), error) {
	reg := relay.NewRegistry()
	if err := calc.Register(reg); err != nil {
		return nil, nil, err
	}
	if err := clock.Register(reg); err != nil {
		return nil, nil, err
	}
	if err := web.New().Register(reg); err != nil {
		return nil, nil, err
	}
	if cfg.Shell.Enabled {
		if err := shell.New(cfg.Shell.Workspace, cfg.Shell.Timeout).Register(reg); err != nil {
			return nil, nil, err
		}
	}

	var clients []*mcp.Client
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
	for _, srv := range cfg.MCP {
		var opts []mcp.ClientOption
		if srv.Prefix != "" {
			opts = append(opts, mcp.WithPrefix(srv.Prefix))
		}
		client, err := mcp.Connect(ctx, srv.Command, srv.Args, opts...)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect mcp server %s: %w", srv.Command, err)
		}
		clients = append(clients, client)
		if err := client.RegisterAll(ctx, reg); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("register mcp tools from %s: %w", srv.Command, err)
		}
	}
	return reg, closeAll, nil
}

// buildTokenCounter selects the token estimator used for budget accounting
// and token-budget trimming.
func buildTokenCounter(cfg config.Config) (relay.TokenCounter, error) {
	switch cfg.Agent.Tokenizer {
	case "", "heuristic":
		return relay.HeuristicCounter{}, nil
	case "tiktoken":
		counter, err := relay.NewTiktokenCounter(cfg.Model.Model)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer for %s: %w", cfg.Model.Model, err)
		}
		return counter, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", cfg.Agent.Tokenizer)
	}
}

func runAgent(ctx context.Context, cfg config.Config, sessionID, input string, asJSON bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var tracer relay.Tracer
	var inst *observer.Instruments
	var provider relay.ModelProvider = openai.New(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Model)
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		tracer = observer.NewTracer()
		provider = observer.WrapProvider(provider, cfg.Model.Model, inst)
	}
	provider = relay.WithRetry(provider, relay.RetryLogger(logger))

	counter, err := buildTokenCounter(cfg)
	if err != nil {
		return err
	}

	reg, closeTools, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTools()

	var evOpts []eventlog.Option
	if cfg.Events.Replay {
		evOpts = append(evOpts, eventlog.WithReplay())
	}
	events, err := eventlog.Open(ctx, cfg.Events.Backend, append(evOpts, eventlog.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("open event backend: %w", err)
	}

	memory, err := store.Open(ctx, cfg.Memory.Backend,
		store.WithLogger(logger),
		store.WithTokenCounter(counter),
		store.WithIdentity(cfg.Memory.UserID, cfg.Memory.AppName))
	if err != nil {
		return fmt.Errorf("open memory backend: %w", err)
	}
	defer memory.Close()
	trimMode, err := relay.ParseTrimMode(cfg.Memory.TrimMode)
	if err != nil {
		return err
	}
	memory.SetConfig(relay.MemoryConfig{Mode: trimMode, Value: cfg.Memory.TrimValue})

	agent := relay.NewAgent(cfg.Agent.Name, cfg.Agent.Instruction, provider,
		relay.WithTools(reg),
		relay.WithEvents(events),
		relay.WithMemory(memory),
		relay.WithLimits(relay.Limits{
			MaxSteps:         cfg.Agent.MaxSteps,
			RequestLimit:     cfg.Agent.RequestLimit,
			TotalTokensLimit: cfg.Agent.TotalTokensLimit,
			ToolTimeout:      time.Duration(cfg.Agent.ToolTimeout) * time.Second,
		}),
		relay.WithGeneration(relay.GenerationConfig{
			Provider:    cfg.Model.Provider,
			Model:       cfg.Model.Model,
			Temperature: cfg.Model.Temp,
			TopP:        cfg.Model.TopP,
			MaxTokens:   cfg.Model.MaxTokens,
		}),
		relay.WithIdentity(cfg.Memory.UserID, cfg.Memory.AppName),
		relay.WithTokenCounter(counter),
		relay.WithTracer(tracer),
		relay.WithLogger(logger),
	)

	if sessionID == "" {
		sessionID = relay.NewID()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stream events alongside the run so progress is visible live.
	g, gctx := errgroup.WithContext(runCtx)

	stream, err := events.Stream(gctx, sessionID)
	if err != nil {
		return fmt.Errorf("stream events: %w", err)
	}

	var result relay.RunResult
	start := time.Now()
	g.Go(func() error {
		var err error
		result, err = agent.Run(gctx, sessionID, input)
		cancel() // stops the event stream
		return err
	})
	g.Go(func() error {
		for ev := range stream {
			printEvent(ev)
			observer.RecordEvent(ctx, inst, ev)
		}
		return nil
	})
	if err := g.Wait(); err != nil && runCtx.Err() == nil {
		return err
	}
	observer.RecordRun(ctx, inst, cfg.Agent.Name, result, time.Since(start))

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	switch result.Outcome {
	case relay.OutcomeFinalAnswer:
		fmt.Println(result.Answer)
	case relay.OutcomeBudgetExceeded:
		fmt.Printf("budget exceeded (%s) after %d steps\n", result.BudgetReason, len(result.Steps))
		if result.LastObservation != "" {
			fmt.Println("last observation:", result.LastObservation)
		}
	case relay.OutcomeModelError:
		return result.Err
	}
	return nil
}

// printEvent renders one event as a progress line on stderr.
func printEvent(ev relay.Event) {
	switch p := ev.Payload.(type) {
	case relay.ToolCallStartedPayload:
		fmt.Fprintf(os.Stderr, "→ %s(%s)\n", p.Tool, compactArgs(p.Args))
	case relay.ToolCallResultPayload:
		fmt.Fprintf(os.Stderr, "← %s (%dms)\n", p.Tool, p.DurationMS)
	case relay.ToolCallErrorPayload:
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", p.Tool, p.Error)
	}
}

func compactArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}
