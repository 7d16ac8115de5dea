// Command caretforge is CaretForge's CLI: a REPL and one-shot task runner
// that wires the four core subsystems (internal/agent, internal/provider,
// internal/permission, internal/indexer) together behind a cobra command
// tree.
//
// Grounded on dcode's cmd/dcode/main.go for the overall cobra
// root-command/subcommand shape (persistent flags, SilenceUsage,
// dispatch-by-os.Args before Execute), trimmed from its bubbletea TUI,
// session store, server, share, and worktree wiring — none of which
// this design names — down to the REPL/run/model/config/doctor surface
// this design describes. See DESIGN.md.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/walidabualafia/caretforge/internal/agent"
	"github.com/walidabualafia/caretforge/internal/config"
	"github.com/walidabualafia/caretforge/internal/indexer"
	"github.com/walidabualafia/caretforge/internal/logx"
	"github.com/walidabualafia/caretforge/internal/message"
	"github.com/walidabualafia/caretforge/internal/permission"
	"github.com/walidabualafia/caretforge/internal/provider"
	"github.com/walidabualafia/caretforge/internal/safety"
	"github.com/walidabualafia/caretforge/internal/tool"
)

var version = "0.1.0"

// globalFlags mirrors the persistent flags this design names.
type globalFlags struct {
	provider string
	model string
	stream bool
	jsonOutput bool
	trace bool
	allowShell bool
	allowWrite bool
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use: "caretforge",
		Short: "CaretForge - an interactive coding agent",
		Long: "CaretForge reads, writes, and edits files, runs shell commands, and talks to a model provider to help with software engineering tasks.",
		SilenceUsage: true,
		SilenceErrors: true,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// No-subcommand dispatch: zero args → REPL; one or
			// more positional args → implicit `run`.
			if len(args) == 0 {
				return runREPL(cmd.Context(), flags)
			}
			return runTask(cmd.Context(), flags, args)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "provider name to use (defaults to the config's defaultProvider)")
	rootCmd.PersistentFlags().StringVar(&flags.model, "model", "", "model id to use (defaults to the provider's defaultModel)")
	var noStream bool
	rootCmd.PersistentFlags().BoolVar(&flags.stream, "stream", true, "stream tokens as they arrive (default on)")
	rootCmd.PersistentFlags().BoolVar(&noStream, "no-stream", false, "disable streaming; wait for the complete response")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "emit one JSON object at completion instead of streaming text")
	rootCmd.PersistentFlags().BoolVar(&flags.trace, "trace", false, "enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&flags.allowShell, "allow-shell", false, `start the session with "always allow" shell execution`)
	rootCmd.PersistentFlags().BoolVar(&flags.allowWrite, "allow-write", false, `start the session with "always allow" file writes`)
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noStream {
			flags.stream = false
		}
		logx.SetTrace(flags.trace)
	}

	rootCmd.AddCommand(
		chatCmd(flags),
		runCmd(flags),
		modelCmd(flags),
		configCmd(),
		doctorCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func chatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use: "chat",
		Short: "start the interactive REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), flags)
		},
	}
}

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use: "run [task...]",
		Short: "run a single one-shot task and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), flags, args)
		},
	}
}

func modelCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "model", Short: "model-related commands"}
	cmd.AddCommand(&cobra.Command{
		Use: "list",
		Short: "list the models the selected provider can serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, prov, _, err := loadProviderContext(flags)
			if err != nil {
				return err
			}
			models, err := prov.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing models: %w", err)
			}
			for _, m := range models {
				fmt.Println(m.ID)
			}
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "inspect and initialize configuration"}

	var withSecrets bool
	initCmd := &cobra.Command{
		Use: "init",
		Short: "write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{
				DefaultProvider: "anthropic",
				Providers: map[string]config.ProviderConfig{
					"anthropic": {Variant: "anthropic", APIKey: os.Getenv("ANTHROPIC_API_KEY")},
				},
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			display := cfg
			if !withSecrets {
				display = cfg.WithSecretsRedacted()
			}
			fmt.Printf("wrote %s\n", config.ConfigFilePath())
			return printJSON(display)
		},
	}
	initCmd.Flags().BoolVar(&withSecrets, "with-secrets", false, "print the raw api keys instead of redacting them")
	cmd.AddCommand(initCmd)

	var showJSON bool
	showCmd := &cobra.Command{
		Use: "show",
		Short: "print the resolved configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(nil)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			redacted := cfg.WithSecretsRedacted()
			if showJSON {
				return printJSON(redacted)
			}
			fmt.Printf("defaultProvider: %s\n", redacted.DefaultProvider)
			fmt.Printf("telemetry: %v\n", redacted.Telemetry)
			for name, pc := range redacted.Providers {
				fmt.Printf("provider %s: variant=%s baseUrl=%s apiKey=%s defaultModel=%s\n",
					name, pc.Variant, pc.BaseURL, pc.APIKey, pc.DefaultModel)
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "emit JSON instead of plain text")
	cmd.AddCommand(showCmd)

	return cmd
}

func doctorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use: "doctor",
		Short: "check that configuration and the selected provider are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := true

			cfg, err := config.Load(nil)
			if err != nil {
				fmt.Printf("[FAIL] load config: %v\n", err)
				ok = false
			} else {
				fmt.Printf("[ OK ] config loaded from %s\n", config.ConfigFilePath())
				if verr := cfg.Validate(); verr != nil {
					fmt.Printf("[FAIL] validate config: %v\n", verr)
					ok = false
				} else {
					fmt.Println("[ OK ] config validates")
				}
			}

			if cfg != nil {
				name := flags.provider
				if name == "" {
					name = cfg.DefaultProvider
				}
				if pc, perr := cfg.ResolveProvider(name); perr != nil {
					fmt.Printf("[FAIL] resolve provider %q: %v\n", name, perr)
					ok = false
				} else {
					fmt.Printf("[ OK ] provider %q resolves (variant=%s)\n", name, pc.Variant)
				}
			}

			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}
}

// loadProviderContext loads config, resolves the selected provider entry,
// and constructs the matching internal/provider.Provider adapter.
func loadProviderContext(flags *globalFlags) (*config.Config, provider.Provider, config.ProviderConfig, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, config.ProviderConfig{}, fmt.Errorf("config error: %w", err)
	}

	name := flags.provider
	if name == "" {
		name = cfg.DefaultProvider
	}
	pc, err := cfg.ResolveProvider(name)
	if err != nil {
		return nil, nil, config.ProviderConfig{}, fmt.Errorf("config error: %w", err)
	}

	prov, err := buildProvider(name, pc)
	if err != nil {
		return nil, nil, config.ProviderConfig{}, err
	}
	return cfg, prov, pc, nil
}

func buildProvider(name string, pc config.ProviderConfig) (provider.Provider, error) {
	httpClient := &http.Client{Timeout: 120 * time.Second}
	switch pc.Variant {
	case "openai":
		return provider.NewOpenAIProvider(name, pc.BaseURL, pc.APIKey, pc.APIVersion), nil
	case "anthropic":
		version := pc.APIVersion
		if version == "" {
			version = "2023-06-01"
		}
		return provider.NewAnthropicProvider(httpClient, pc.BaseURL, pc.APIKey, version), nil
	case "responses":
		return provider.NewResponsesProvider(httpClient, pc.BaseURL, pc.APIKey), nil
	case "asyncrun":
		return provider.NewAsyncRunProvider(httpClient, pc.BaseURL, pc.APIKey, pc.TokenCmd), nil
	default:
		return nil, fmt.Errorf("config error: provider %q has unknown variant %q", name, pc.Variant)
	}
}

func selectedModel(flags *globalFlags, pc config.ProviderConfig) string {
	if flags.model != "" {
		return flags.model
	}
	return pc.DefaultModel
}

// buildPermissionManager wires a permission.Manager whose PromptFunc reads
// a line from stdin, the REPL-mode interactive-confirmation path this design
// describes.
func buildPermissionManager(flags *globalFlags, interactive bool) *permission.Manager {
	prompt := func(toolName, detail string, tier safety.Tier, allowAlways bool) (string, error) {
		suffix := " [y/N]"
		if allowAlways {
			suffix = " [y/N/a]"
		}
		fmt.Fprintf(os.Stderr, "permission: %s wants to %s (%s)%s: ", toolName, detail, tier.String(), suffix)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line), nil
	}
	return permission.NewManager(flags.allowShell, flags.allowWrite, interactive, permission.PromptFunc(prompt))
}

// runTask implements the one-shot `run`/implicit-run path:
// a single user message is run through the agent loop to completion, then
// the process exits.
func runTask(ctx context.Context, flags *globalFlags, args []string) error {
	task := strings.Join(args, " ")
	if task == "" {
		return fmt.Errorf("run: no task given")
	}

	cfg, prov, pc, err := loadProviderContext(flags)
	if err != nil {
		return jsonOrPlainError(flags, err)
	}
	model := selectedModel(flags, pc)

	idx, err := indexer.Build(ctx, ".")
	if err != nil {
		logx.Warn("indexing failed, @path expansion disabled: %v", err)
	}
	prompt := task
	if idx != nil {
		prompt, _ = indexer.Expand(idx, ".", task)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	pm := buildPermissionManager(flags, interactive)
	registry := tool.NewRegistry()
	toolCtx := &tool.Context{WorkDir: "."}

	cb := driverCallbacks(flags, pm)
	start := time.Now()
	res, err := agent.Run(ctx, []message.Message{{Role: message.RoleUser, Content: prompt}}, prov, model, flags.stream, registry, toolCtx, cb)
	if err != nil {
		return jsonOrPlainError(flags, err)
	}

	if flags.jsonOutput {
		return printJSON(map[string]any{
			"id": res.ID,
			"task": task,
			"model": model,
			"provider": cfg.DefaultProvider,
			"finalContent": res.FinalContent,
			"toolCallCount": res.ToolCallCount,
			"durationMs": time.Since(start).Milliseconds(),
			"messages": res.Conversation.Messages,
		})
	}

	fmt.Println(res.FinalContent)
	return nil
}

// runREPL implements the interactive loop: read a line, run
// it through the agent loop against an accumulating conversation, repeat
// until exit.
func runREPL(ctx context.Context, flags *globalFlags) error {
	cfg, prov, pc, err := loadProviderContext(flags)
	if err != nil {
		return err
	}
	model := selectedModel(flags, pc)

	idx, err := indexer.Build(ctx, ".")
	if err != nil {
		logx.Warn("indexing failed, @path expansion disabled: %v", err)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	pm := buildPermissionManager(flags, interactive)
	registry := tool.NewRegistry()
	toolCtx := &tool.Context{WorkDir: "."}
	cb := driverCallbacks(flags, pm)

	var conversation []message.Message
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("caretforge " + version + " - type /help for commands")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil // EOF: clean exit
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") || line == "exit" || line == "quit" || line == "q" {
			done, newModel, newProv, newPC := handleSlashCommand(line, cfg, &model, prov, pc)
			if done {
				return nil
			}
			if newProv != nil {
				prov, pc = newProv, newPC
				model = newModel
			}
			if strings.HasPrefix(line, "/clear") || strings.HasPrefix(line, "/compact") {
				conversation = applySlashMutation(line, conversation)
			}
			continue
		}

		prompt := line
		if idx != nil {
			prompt, _ = indexer.Expand(idx, ".", line)
		}
		conversation = append(conversation, message.Message{Role: message.RoleUser, Content: prompt})

		res, err := agent.Run(ctx, conversation, prov, model, flags.stream, registry, toolCtx, cb)
		if err != nil {
			fmt.Fprintf(os.Stderr, "provider error: %v\n", err)
			continue // a provider error ends the turn, not the REPL
		}
		// Strip the synthetic system message agent.Run prepends; keep the
		// turn's own messages as the REPL's running history.
		conversation = res.Conversation.Messages[1:]
		if !flags.stream {
			fmt.Println(res.FinalContent)
		} else {
			fmt.Println()
		}
	}
}

// handleSlashCommand processes one REPL meta-command. done reports
// whether the REPL should exit.
func handleSlashCommand(line string, cfg *config.Config, model *string, prov provider.Provider, pc config.ProviderConfig) (done bool, newModel string, newProv provider.Provider, newPC config.ProviderConfig) {
	switch {
	case line == "exit", line == "quit", line == "q", line == "/exit", line == "/quit":
		return true, "", nil, config.ProviderConfig{}
	case line == "/help":
		fmt.Println("/help /clear /compact /model /model <id> /exit /quit (also bare exit, quit, q)")
	case line == "/clear":
		fmt.Println("cleared conversation history")
	case line == "/compact":
		fmt.Println("dropped all but the last four messages")
	case line == "/model":
		fmt.Printf("current model: %s (provider %s)\n", *model, cfg.DefaultProvider)
	case strings.HasPrefix(line, "/model "):
		target := strings.TrimSpace(strings.TrimPrefix(line, "/model "))
		providerName := cfg.DefaultProvider
		modelID := target
		if idx := strings.Index(target, "/"); idx >= 0 {
			providerName, modelID = target[:idx], target[idx+1:]
		}
		npc, err := cfg.ResolveProvider(providerName)
		if err != nil {
			fmt.Printf("cannot switch: %v\n", err)
			return false, "", nil, config.ProviderConfig{}
		}
		np, err := buildProvider(providerName, npc)
		if err != nil {
			fmt.Printf("cannot switch: %v\n", err)
			return false, "", nil, config.ProviderConfig{}
		}
		fmt.Printf("switched to %s/%s\n", providerName, modelID)
		return false, modelID, np, npc
	default:
		fmt.Printf("unrecognized command: %s\n", line)
	}
	return false, "", nil, config.ProviderConfig{}
}

// applySlashMutation implements /clear (drop everything) and /compact
// (drop all but the last four messages).
func applySlashMutation(line string, conversation []message.Message) []message.Message {
	if strings.HasPrefix(line, "/clear") {
		return nil
	}
	if len(conversation) <= 4 {
		return conversation
	}
	return conversation[len(conversation)-4:]
}

// driverCallbacks wires agent.Callbacks to the terminal: tokens to stdout
// (suppressed in --json mode), tool-call/result lines to stderr, and
// permission prompts to the permission manager.
func driverCallbacks(flags *globalFlags, pm *permission.Manager) agent.Callbacks {
	return agent.Callbacks{
		OnToken: func(token string) {
			if flags.jsonOutput {
				return
			}
			fmt.Print(token)
		},
		OnToolCall: func(tc message.ToolCall) {
			fmt.Fprintf(os.Stderr, "-> %s(%s)\n", tc.Name, truncate(tc.Arguments, 120))
		},
		OnToolResult: func(tc message.ToolCall, result string, isError bool) {
			status := "ok"
			if isError {
				status = "error"
			}
			fmt.Fprintf(os.Stderr, "<- %s [%s] %s\n", tc.Name, status, truncate(result, 200))
		},
		OnPermissionRequest: func(tc message.ToolCall, tier safety.Tier, detail string) bool {
			allowed, reason := pm.Check(tc.Name, tier, detail)
			fmt.Fprintf(os.Stderr, "permission: %s -> %v (%s)\n", tc.Name, allowed, reason)
			return allowed
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…" + " (" + strconv.Itoa(len(s)-n) + " more bytes)"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", " ")
	return enc.Encode(v)
}

func jsonOrPlainError(flags *globalFlags, err error) error {
	if flags.jsonOutput {
		_ = printJSON(map[string]string{"error": err.Error()})
		os.Exit(1)
	}
	return err
}
